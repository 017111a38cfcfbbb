package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"docvec-go/internal/apperr"
	"docvec-go/internal/model"
	"docvec-go/pkg/batch"
	"docvec-go/pkg/log"
)

// 检索重试策略：瞬时网络故障最多尝试 3 次，退避时间线性递增。
const (
	searchMaxAttempts = 3
	searchBackoffUnit = 150 * time.Millisecond
	listScanPageSize  = 1000
)

// SearchQuery 是一次相似度检索的参数。
type SearchQuery struct {
	Vector []float32
	Limit  int
	// Filter 是附加的 term 过滤条件，键为字段名。
	Filter map[string]interface{}
}

// SearchHit 是一条检索命中结果。
type SearchHit struct {
	Point model.EsPoint
	Score float64
}

// Upsert 将向量点批量写入索引。
// 写入经由批处理引擎分批执行；任何一个批次失败都会使整个调用失败，
// 调用方不能假设部分成功。
func (c *Client) Upsert(ctx context.Context, collectionID string, points []model.EsPoint) error {
	if len(points) == 0 {
		return nil
	}

	cfg := batch.Config{
		BatchSize:            c.batchSize,
		MaxConcurrentBatches: c.maxConcurrentBatches,
		Timeout:              time.Duration(c.batchTimeoutMinutes) * time.Minute,
	}
	result, err := batch.Execute(ctx, points, func(ctx context.Context, group []model.EsPoint) ([]string, error) {
		return c.bulkIndex(ctx, group)
	}, cfg)
	if err != nil {
		return apperr.Infrastructure(err, "向量批量写入内部错误, collection: %s", collectionID)
	}
	if result.FailedCount > 0 {
		// 附带批次号与批次大小的错误信息由批处理引擎封装
		return apperr.Infrastructure(result.Errors[0],
			"向量批量写入失败, collection: %s, 失败条目: %d/%d", collectionID, result.FailedCount, len(points))
	}
	log.Infof("[VectorIndex] 批量写入完成, collection: %s, 共 %d 个向量点", collectionID, len(points))
	return nil
}

// bulkIndex 通过 Bulk API 写入一组向量点，返回写入的 point_id 列表。
func (c *Client) bulkIndex(ctx context.Context, points []model.EsPoint) ([]string, error) {
	var buf bytes.Buffer
	ids := make([]string, 0, len(points))
	for _, p := range points {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, c.indexName, p.PointID)
		buf.WriteString(meta)
		buf.WriteByte('\n')
		doc, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("序列化向量点 %s 失败: %w", p.PointID, err)
		}
		buf.Write(doc)
		buf.WriteByte('\n')
		ids = append(ids, p.PointID)
	}

	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()), c.es.Bulk.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bulk 请求失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("bulk 请求返回错误: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return nil, fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Error != nil {
					return nil, fmt.Errorf("向量点 %s 写入失败: %s: %s", op.ID, op.Error.Type, op.Error.Reason)
				}
			}
		}
		return nil, fmt.Errorf("bulk 响应包含未知错误")
	}
	return ids, nil
}

// Search 在指定集合分区内执行 kNN 相似度检索。
// 空查询向量立即返回校验错误，不发起任何网络请求；
// 瞬时网络故障按线性退避重试，重试耗尽后上抛基础设施错误。
func (c *Client) Search(ctx context.Context, collectionID string, query SearchQuery) ([]SearchHit, error) {
	if len(query.Vector) == 0 {
		return nil, apperr.Validation("查询向量不能为空")
	}
	if query.Limit <= 0 {
		query.Limit = 10
	}

	var lastErr error
	for attempt := 1; attempt <= searchMaxAttempts; attempt++ {
		hits, err := c.searchOnce(ctx, collectionID, query)
		if err == nil {
			return hits, nil
		}
		lastErr = err
		if !apperr.IsTransient(err) {
			return nil, apperr.Infrastructure(err, "向量检索失败, collection: %s", collectionID)
		}
		if attempt < searchMaxAttempts {
			delay := searchBackoffUnit * time.Duration(attempt)
			log.Warnf("[VectorIndex] 检索遇到瞬时故障 (第 %d 次尝试), %s 后重试: %v", attempt, delay, err)
			select {
			case <-ctx.Done():
				return nil, apperr.Infrastructure(ctx.Err(), "向量检索被取消, collection: %s", collectionID)
			case <-time.After(delay):
			}
		}
	}
	return nil, apperr.Infrastructure(lastErr, "向量检索重试 %d 次后仍失败, collection: %s", searchMaxAttempts, collectionID)
}

func (c *Client) searchOnce(ctx context.Context, collectionID string, query SearchQuery) ([]SearchHit, error) {
	filters := []map[string]interface{}{
		{"term": map[string]interface{}{"collection_id": collectionID}},
	}
	for field, value := range query.Filter {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{field: value},
		})
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   query.Vector,
			"k":              query.Limit,
			"num_candidates": query.Limit * 10,
			"filter":         filters,
		},
		"size": query.Limit,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("序列化检索请求失败: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.indexName),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("检索请求失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("检索返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsPoint `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	hits := make([]SearchHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, SearchHit{Point: h.Source, Score: h.Score})
	}
	return hits, nil
}

// DeleteByDoc 删除一个文档的全部向量点。空 docID 是幂等的空操作。
func (c *Client) DeleteByDoc(ctx context.Context, docID string) error {
	if docID == "" {
		return nil
	}
	return c.deleteByTerm(ctx, "doc_id", docID)
}

// DeleteByCollection 删除一个集合的全部向量点。空 collectionID 是幂等的空操作。
func (c *Client) DeleteByCollection(ctx context.Context, collectionID string) error {
	if collectionID == "" {
		return nil
	}
	return c.deleteByTerm(ctx, "collection_id", collectionID)
}

// DeleteIndex 移除一个集合在共享索引中的整个数据分区。
// 集合删除流程在元数据事务提交后调用它做补偿清理。
func (c *Client) DeleteIndex(ctx context.Context, collectionID string) error {
	if collectionID == "" {
		return nil
	}
	log.Infof("[VectorIndex] 移除集合 '%s' 的索引分区", collectionID)
	return c.deleteByTerm(ctx, "collection_id", collectionID)
}

func (c *Client) deleteByTerm(ctx context.Context, field, value string) error {
	if c.testMode {
		log.Infof("[VectorIndex] 测试模式, 跳过删除操作 (%s=%s)", field, value)
		return nil
	}

	body := fmt.Sprintf(`{"query":{"term":{%q:%q}}}`, field, value)
	res, err := c.es.DeleteByQuery(
		[]string{c.indexName},
		bytes.NewReader([]byte(body)),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return apperr.Infrastructure(err, "按 %s=%s 删除向量点失败", field, value)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperr.Infrastructure(nil, "按 %s=%s 删除向量点返回错误: %s", field, value, res.Status())
	}
	log.Infof("[VectorIndex] 已删除 %s=%s 的向量点", field, value)
	return nil
}

// ListAllIDs 列出一个集合分区内的全部 point_id，按 search_after 翻页扫描。
func (c *Client) ListAllIDs(ctx context.Context, collectionID string) ([]string, error) {
	if collectionID == "" {
		return nil, nil
	}

	var ids []string
	var searchAfter []interface{}
	for {
		esQuery := map[string]interface{}{
			"query": map[string]interface{}{
				"term": map[string]interface{}{"collection_id": collectionID},
			},
			"size":    listScanPageSize,
			"sort":    []map[string]interface{}{{"point_id": "asc"}},
			"_source": []string{"point_id"},
		}
		if searchAfter != nil {
			esQuery["search_after"] = searchAfter
		}

		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
			return nil, fmt.Errorf("序列化扫描请求失败: %w", err)
		}

		res, err := c.es.Search(
			c.es.Search.WithContext(ctx),
			c.es.Search.WithIndex(c.indexName),
			c.es.Search.WithBody(&buf),
		)
		if err != nil {
			return nil, apperr.Infrastructure(err, "扫描集合 '%s' 的向量点失败", collectionID)
		}
		var page struct {
			Hits struct {
				Hits []struct {
					Source struct {
						PointID string `json:"point_id"`
					} `json:"_source"`
					Sort []interface{} `json:"sort"`
				} `json:"hits"`
			} `json:"hits"`
		}
		decodeErr := json.NewDecoder(res.Body).Decode(&page)
		res.Body.Close()
		if decodeErr != nil {
			return nil, apperr.Infrastructure(decodeErr, "解析扫描响应失败, collection: %s", collectionID)
		}
		if len(page.Hits.Hits) == 0 {
			break
		}
		for _, h := range page.Hits.Hits {
			ids = append(ids, h.Source.PointID)
		}
		searchAfter = page.Hits.Hits[len(page.Hits.Hits)-1].Sort
		if searchAfter == nil {
			break
		}
	}
	return ids, nil
}

// DeletePoints 按 id 列表分批删除向量点。
// 每个批次成功后记录日志；任何批次失败都会携带底层错误中止，
// 不会静默跳过剩余批次。空 id 列表是幂等的空操作。
func (c *Client) DeletePoints(ctx context.Context, collectionID string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	if c.testMode {
		log.Infof("[VectorIndex] 测试模式, 跳过删除 %d 个向量点", len(pointIDs))
		return nil
	}

	size := c.batchSize
	if size <= 0 {
		size = batch.DefaultBatchSize
	}
	for start := 0; start < len(pointIDs); start += size {
		end := start + size
		if end > len(pointIDs) {
			end = len(pointIDs)
		}
		group := pointIDs[start:end]

		var buf bytes.Buffer
		for _, id := range group {
			buf.WriteString(fmt.Sprintf(`{"delete":{"_index":%q,"_id":%q}}`, c.indexName, id))
			buf.WriteByte('\n')
		}
		res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()), c.es.Bulk.WithContext(ctx))
		if err != nil {
			return apperr.Infrastructure(err, "删除向量点批次失败, collection: %s, 批次起点: %d", collectionID, start)
		}
		isErr := res.IsError()
		status := res.Status()
		res.Body.Close()
		if isErr {
			return apperr.Infrastructure(nil, "删除向量点批次返回错误, collection: %s, 批次起点: %d, status: %s", collectionID, start, status)
		}
		log.Infof("[VectorIndex] 已删除向量点批次, collection: %s, 本批 %d 个", collectionID, len(group))
	}
	return nil
}
