// Package remote implements the participant store backend on Redis, using
// RedisJSON documents and a RediSearch vector index. Durability is delegated
// to the Redis server's persistence configuration.
package remote

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/kindredlabs/kindred/distance"
	"github.com/kindredlabs/kindred/types"
)

// Backend stores one JSON document per participant and queries them through
// a RediSearch KNN index over the embedding field.
type Backend struct {
	client    *redis.Client
	prefix    string
	indexName string
	dimension int
	metric    distance.Func
}

// document is the stored per-participant JSON body.
type document struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Comment   string    `json:"comment"`
	Embedding []float32 `json:"embedding"`
}

// parseRedisURL parses a Redis URL and returns redis.Options.
func parseRedisURL(connectionString string) (*redis.Options, error) {
	if strings.HasPrefix(connectionString, "redis://") || strings.HasPrefix(connectionString, "rediss://") {
		parsedURL, err := url.Parse(connectionString)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}

		opts := &redis.Options{
			Addr: parsedURL.Host,
		}

		if parsedURL.Scheme == "rediss" {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		if parsedURL.User != nil {
			opts.Username = parsedURL.User.Username()
			if password, ok := parsedURL.User.Password(); ok {
				opts.Password = password
			}
		}

		if parsedURL.Path != "" && parsedURL.Path != "/" {
			dbStr := strings.TrimPrefix(parsedURL.Path, "/")
			if db, err := strconv.Atoi(dbStr); err == nil {
				opts.DB = db
			}
		}

		return opts, nil
	}

	// Simple host:port address.
	return &redis.Options{
		Addr: connectionString,
	}, nil
}

// New creates a Redis backend and ensures the vector index exists.
func New(cfg types.BackendConfig) (*Backend, error) {
	if cfg.Dimension <= 0 {
		return nil, errors.New("remote: dimension is required")
	}

	opts, err := parseRedisURL(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}

	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.Database != 0 {
		opts.DB = cfg.Database
	}

	client := redis.NewClient(opts)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("remote: connect to Redis: %w", err)
	}

	prefix := "kindred:"
	if prefixOpt, ok := cfg.Options["prefix"]; ok {
		if p, ok := prefixOpt.(string); ok {
			prefix = p
		}
	}

	indexName := prefix + "idx"
	if indexOpt, ok := cfg.Options["index_name"]; ok {
		if idx, ok := indexOpt.(string); ok {
			indexName = idx
		}
	}

	metric := cfg.Metric
	if metric == nil {
		metric = distance.SquaredEuclidean
	}

	b := &Backend{
		client:    client,
		prefix:    prefix,
		indexName: indexName,
		dimension: cfg.Dimension,
		metric:    metric,
	}
	b.initializeIndex(ctx)
	return b, nil
}

// initializeIndex creates the vector search index if it doesn't exist. A
// FLAT index gives exact search; the population never exceeds the identifier
// pool.
func (b *Backend) initializeIndex(ctx context.Context) {
	_, err := b.client.FTCreate(ctx, b.indexName, &redis.FTCreateOptions{
		OnJSON: true,
		Prefix: []any{b.prefix},
	},
		&redis.FieldSchema{
			FieldName: "$.id",
			As:        "id",
			FieldType: redis.SearchFieldTypeNumeric,
		},
		&redis.FieldSchema{
			FieldName: "$.embedding",
			As:        "embedding",
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				FlatOptions: &redis.FTFlatOptions{
					Type:           "FLOAT32",
					Dim:            b.dimension,
					DistanceMetric: "L2",
				},
			},
		},
	).Result()
	if err != nil {
		// Index already exists, which is fine.
		_ = err
	}
}

func (b *Backend) key(id int) string {
	return b.prefix + strconv.Itoa(id)
}

// vectorBytes converts an embedding to the little-endian byte layout
// RediSearch expects for FLOAT32 query vectors.
func vectorBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(v))
	}
	return buf
}

// Upsert writes or fully replaces the entry for id.
func (b *Backend) Upsert(ctx context.Context, id int, entry types.Entry) error {
	doc := document{ID: id, Name: entry.Name, Comment: entry.Comment, Embedding: entry.Embedding}

	if _, err := b.client.JSONSet(ctx, b.key(id), "$", doc).Result(); err != nil {
		return fmt.Errorf("remote: set entry: %w", err)
	}
	return nil
}

// PutIfAbsent writes the entry only when id is unused, using JSON.SET's NX
// mode so the reservation is atomic on the server.
func (b *Backend) PutIfAbsent(ctx context.Context, id int, entry types.Entry) (bool, error) {
	doc := document{ID: id, Name: entry.Name, Comment: entry.Comment, Embedding: entry.Embedding}

	_, err := b.client.JSONSetMode(ctx, b.key(id), "$", doc, "NX").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remote: reserve entry: %w", err)
	}
	return true, nil
}

// Get retrieves the entry for id.
func (b *Backend) Get(ctx context.Context, id int) (types.Entry, bool, error) {
	result, err := b.client.JSONGet(ctx, b.key(id), "$").Result()
	if err == redis.Nil {
		return types.Entry{}, false, nil
	}
	if err != nil {
		return types.Entry{}, false, fmt.Errorf("remote: get entry: %w", err)
	}

	var docs []document
	if err := json.Unmarshal([]byte(result), &docs); err != nil {
		return types.Entry{}, false, fmt.Errorf("remote: unmarshal entry: %w", err)
	}
	if len(docs) == 0 {
		return types.Entry{}, false, nil
	}

	doc := docs[0]
	return types.Entry{Embedding: doc.Embedding, Name: doc.Name, Comment: doc.Comment}, true, nil
}

// Keys returns all identifiers in use, using SCAN over the key prefix.
func (b *Backend) Keys(ctx context.Context) ([]int, error) {
	pattern := b.prefix + "*"
	var keys []int
	var cursor uint64

	for {
		result, nextCursor, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("remote: scan keys: %w", err)
		}

		for _, redisKey := range result {
			id, err := strconv.Atoi(strings.TrimPrefix(redisKey, b.prefix))
			if err != nil {
				// Not a participant key (e.g. the index itself).
				continue
			}
			keys = append(keys, id)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Len returns the number of stored entries.
func (b *Backend) Len(ctx context.Context) (int, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Nearest runs a server-side KNN query, then recomputes distances with the
// configured metric so the reported numbers do not depend on the engine's
// distance convention.
func (b *Backend) Nearest(ctx context.Context, query []float32, k int) ([]types.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	knn := fmt.Sprintf("*=>[KNN %d @embedding $vec AS vector_distance]", k)
	results, err := b.client.FTSearchWithArgs(ctx, b.indexName, knn, &redis.FTSearchOptions{
		Return: []redis.FTSearchReturn{
			{FieldName: "id"},
		},
		SortBy: []redis.FTSearchSortBy{
			{FieldName: "vector_distance", Asc: true},
		},
		DialectVersion: 2,
		Limit:          k,
		Params: map[string]any{
			"vec": vectorBytes(query),
		},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("remote: vector search: %w", err)
	}

	neighbors := make([]types.Neighbor, 0, len(results.Docs))
	for _, doc := range results.Docs {
		idStr, ok := doc.Fields["id"]
		if !ok {
			continue
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}

		entry, found, err := b.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		d, err := b.metric(query, entry.Embedding)
		if err != nil {
			return nil, err
		}
		neighbors = append(neighbors, types.Neighbor{ID: id, Entry: entry, Distance: d})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].ID < neighbors[j].ID
	})
	return neighbors, nil
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.client.Close()
}
