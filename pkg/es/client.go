// Package es 提供了与 Elasticsearch 交互的客户端功能，作为文档库的向量索引。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"plagcheck-go/internal/config"
	"plagcheck-go/internal/model"
	"plagcheck-go/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// VectorIndex 以 dense_vector 字段保存文档库文档的整篇向量。
// 查询返回余弦距离：ES 的 cosine 相似度得分为 (1 + cos) / 2，因此 distance = 2 - 2·score。
type VectorIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewVectorIndex 初始化 Elasticsearch 客户端并在索引不存在时创建它。
func NewVectorIndex(esCfg config.ElasticsearchConfig, dims int) (*VectorIndex, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := &VectorIndex{client: client, indexName: esCfg.IndexName}
	if err := idx.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return idx, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (v *VectorIndex) createIndexIfNotExists(dims int) error {
	res, err := v.client.Indices.Exists([]string{v.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", v.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", v.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"library_doc_id": { "type": "keyword" },
				"library_id": { "type": "keyword" },
				"status": { "type": "keyword" },
				"content_hash": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	created, err := v.client.Indices.Create(
		v.indexName,
		v.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", v.indexName, err)
		return err
	}
	defer created.Body.Close()
	if created.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", v.indexName, created.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", v.indexName)
	return nil
}

// IndexLibraryDocument 写入或覆盖一篇文档库文档的向量。
func (v *VectorIndex) IndexLibraryDocument(ctx context.Context, doc model.LibraryVectorDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      v.indexName,
		DocumentID: doc.LibraryDocID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, v.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}
	return nil
}

// DeleteLibraryDocument 删除文档向量，文档不存在不视为错误。
func (v *VectorIndex) DeleteLibraryDocument(ctx context.Context, libraryDocID string) error {
	req := esapi.DeleteRequest{
		Index:      v.indexName,
		DocumentID: libraryDocID,
		Refresh:    "true",
	}
	res, err := req.Do(ctx, v.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to delete document: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID    string  `json:"_id"`
			Score float64 `json:"_score"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query 在给定文档库中查找状态为 ready 的 k 个最近邻，按距离升序返回。
func (v *VectorIndex) Query(ctx context.Context, vector []float32, libraryIDs []string, k int) ([]model.VectorHit, error) {
	if len(libraryIDs) == 0 || k <= 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildKNNQuery(vector, libraryIDs, k)); err != nil {
		return nil, fmt.Errorf("failed to encode knn query: %w", err)
	}

	res, err := v.client.Search(
		v.client.Search.WithContext(ctx),
		v.client.Search.WithIndex(v.indexName),
		v.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("knn search returned error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode knn response: %w", err)
	}
	hits := make([]model.VectorHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, model.VectorHit{ID: h.ID, Distance: scoreToDistance(h.Score)})
	}
	return hits, nil
}

func buildKNNQuery(vector []float32, libraryIDs []string, k int) map[string]interface{} {
	return map[string]interface{}{
		"size": k,
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": max(k*5, 100),
			"filter": map[string]interface{}{
				"bool": map[string]interface{}{
					"filter": []interface{}{
						map[string]interface{}{"terms": map[string]interface{}{"library_id": libraryIDs}},
						map[string]interface{}{"term": map[string]interface{}{"status": model.LibraryDocReady}},
					},
				},
			},
		},
		"_source": []string{"library_doc_id"},
	}
}

// scoreToDistance 把 ES 的 cosine 得分换算为余弦距离。
func scoreToDistance(score float64) float64 {
	return 2 - 2*score
}
