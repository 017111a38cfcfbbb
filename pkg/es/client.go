// Package es 提供了基于 Elasticsearch 的向量索引客户端。
// 所有集合的向量点存放在同一个索引中，通过 collection_id 字段划分分区。
package es

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"docvec-go/internal/apperr"
	"docvec-go/internal/config"
	"docvec-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

var ESClient *elasticsearch.Client

// InitES 初始化全局 Elasticsearch 客户端。
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return nil
}

// Client 是向量索引客户端，封装索引管理、批量写入、检索与删除。
type Client struct {
	es        *elasticsearch.Client
	indexName string
	dims      int
	// testMode 为 true 时跳过所有删除操作，避免污染共享测试数据。
	testMode bool

	batchSize            int
	maxConcurrentBatches int
	batchTimeoutMinutes  int
}

// NewClient 创建一个向量索引客户端实例。
func NewClient(esc *elasticsearch.Client, esCfg config.ElasticsearchConfig, batchCfg config.BatchConfig) *Client {
	return &Client{
		es:                   esc,
		indexName:            esCfg.IndexName,
		dims:                 esCfg.Dimensions,
		testMode:             esCfg.TestMode,
		batchSize:            batchCfg.BatchSize,
		maxConcurrentBatches: batchCfg.MaxConcurrentBatches,
		batchTimeoutMinutes:  batchCfg.TimeoutMinutes,
	}
}

// EnsureIndex 确保向量索引存在且维度与配置一致。
// 索引不存在时创建；已存在但维度不一致时立即返回配置错误，绝不静默忽略。
// 对同一配置重复调用是幂等的。
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.indexName}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[VectorIndex] 检查索引是否存在时出错: %v", err)
		return apperr.Infrastructure(err, "检查索引 '%s' 失败", c.indexName)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		// 索引已存在：校验向量维度是否与配置一致
		actual, err := c.indexDims(ctx)
		if err != nil {
			return err
		}
		if actual != c.dims {
			return apperr.Configuration("索引 '%s' 的向量维度为 %d, 与配置的 %d 不一致", c.indexName, actual, c.dims)
		}
		log.Infof("[VectorIndex] 索引 '%s' 已存在, 维度校验通过 (%d)", c.indexName, c.dims)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return apperr.Infrastructure(nil, "检查索引 '%s' 时收到意外的状态码: %d", c.indexName, res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"point_id": { "type": "keyword" },
				"doc_id": { "type": "keyword" },
				"collection_id": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"title": { "type": "text" },
				"text_content": { "type": "text" },
				"content_hash": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, c.dims)

	createRes, err := c.es.Indices.Create(
		c.indexName,
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("[VectorIndex] 创建索引 '%s' 失败: %v", c.indexName, err)
		return apperr.Infrastructure(err, "创建索引 '%s' 失败", c.indexName)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		log.Errorf("[VectorIndex] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.indexName, createRes.String())
		return apperr.Infrastructure(nil, "创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.indexName, createRes.Status())
	}

	log.Infof("[VectorIndex] 索引 '%s' 创建成功, 向量维度: %d", c.indexName, c.dims)
	return nil
}

// indexDims 读取索引 mapping 中 vector 字段的实际维度。
func (c *Client) indexDims(ctx context.Context) (int, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithIndex(c.indexName),
		c.es.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return 0, apperr.Infrastructure(err, "读取索引 '%s' 的 mapping 失败", c.indexName)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, apperr.Infrastructure(nil, "读取索引 '%s' 的 mapping 返回错误: %s", c.indexName, res.Status())
	}

	var raw map[string]struct {
		Mappings struct {
			Properties struct {
				Vector struct {
					Dims int `json:"dims"`
				} `json:"vector"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return 0, apperr.Infrastructure(err, "解析索引 '%s' 的 mapping 失败", c.indexName)
	}
	for _, idx := range raw {
		return idx.Mappings.Properties.Vector.Dims, nil
	}
	return 0, apperr.Infrastructure(nil, "索引 '%s' 的 mapping 中找不到 vector 字段", c.indexName)
}
