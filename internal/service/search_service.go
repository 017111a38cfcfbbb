package service

import (
	"context"

	"docvec-go/internal/apperr"
	"docvec-go/internal/model"
	"docvec-go/internal/repository"
	"docvec-go/pkg/embedding"
	"docvec-go/pkg/es"
	"docvec-go/pkg/log"
)

// SearchService 接口定义了语义检索操作。
type SearchService interface {
	// Search 在指定集合内做向量相似度检索。
	// 基础设施故障降级为空结果，校验错误原样上抛。
	Search(ctx context.Context, collectionID, query string, topK int) ([]model.SearchResultDTO, error)
}

type searchService struct {
	embeddingClient embedding.Client
	esClient        *es.Client
	collectionRepo  repository.CollectionRepository
	docRepo         repository.DocumentRepository
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, esClient *es.Client, collectionRepo repository.CollectionRepository, docRepo repository.DocumentRepository) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		collectionRepo:  collectionRepo,
		docRepo:         docRepo,
	}
}

// Search 执行语义检索。
func (s *searchService) Search(ctx context.Context, collectionID, query string, topK int) ([]model.SearchResultDTO, error) {
	if query == "" {
		return nil, apperr.Validation("查询内容不能为空")
	}
	if topK <= 0 {
		topK = 10
	}
	if _, err := s.collectionRepo.GetByID(collectionID); err != nil {
		return nil, apperr.Validation("集合不存在: %s", collectionID)
	}
	log.Infof("[SearchService] 开始语义检索, collection: %s, query: '%s', topK: %d", collectionID, query, topK)

	// 1. 向量化查询
	vectors, err := s.embeddingClient.CreateEmbeddings(ctx, []string{query})
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, apperr.Infrastructure(err, "向量化查询失败")
	}
	if len(vectors) != 1 {
		return nil, apperr.Infrastructure(nil, "向量化查询返回了 %d 个向量", len(vectors))
	}

	// 2. 相似度检索。检索内部已带瞬时故障重试，这里对最终失败降级为空结果
	hits, err := s.esClient.Search(ctx, collectionID, es.SearchQuery{
		Vector: vectors[0],
		Limit:  topK,
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			return nil, err
		}
		log.Errorf("[SearchService] 向量检索失败, 降级返回空结果, collection: %s, Error: %v", collectionID, err)
		return []model.SearchResultDTO{}, nil
	}
	if len(hits) == 0 {
		log.Infof("[SearchService] 检索返回 0 条命中, collection: %s", collectionID)
		return []model.SearchResultDTO{}, nil
	}

	// 3. 批量获取文档名
	uniqueIDs := make(map[string]struct{})
	for _, hit := range hits {
		uniqueIDs[hit.Point.DocID] = struct{}{}
	}
	nameMap := make(map[string]string, len(uniqueIDs))
	for docID := range uniqueIDs {
		doc, err := s.docRepo.GetByID(docID)
		if err != nil {
			log.Warnf("[SearchService] 未找到 DocID '%s' 对应的文档记录", docID)
			continue
		}
		nameMap[docID] = doc.Name
	}

	// 4. 组装最终结果
	results := make([]model.SearchResultDTO, 0, len(hits))
	for _, hit := range hits {
		name := nameMap[hit.Point.DocID]
		if name == "" {
			name = "未知文档"
		}
		results = append(results, model.SearchResultDTO{
			PointID:     hit.Point.PointID,
			DocID:       hit.Point.DocID,
			DocName:     name,
			ChunkIndex:  hit.Point.ChunkIndex,
			Title:       hit.Point.Title,
			TextContent: hit.Point.TextContent,
			Score:       hit.Score,
		})
	}
	log.Infof("[SearchService] 语义检索完成, 返回 %d 条结果", len(results))
	return results, nil
}
