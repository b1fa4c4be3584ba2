package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a document lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Document status values.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Document represents a row in the documents table.
type Document struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	Format      string    `json:"format"`
	ContentHash string    `json:"content_hash"`
	Status      string    `json:"status"`
	Language    string    `json:"language,omitempty"`
	Title       string    `json:"title,omitempty"`
	Author      string    `json:"author,omitempty"`
	WordCount   int       `json:"word_count"`
	CharCount   int       `json:"char_count"`
	PageCount   int       `json:"page_count,omitempty"`
	Metadata    string    `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk represents a row in the chunks table. StartOffset and EndOffset
// are byte offsets into the document's normalized content.
type Chunk struct {
	ID          int64  `json:"id"`
	DocumentID  int64  `json:"document_id"`
	Content     string `json:"content"`
	ChunkType   string `json:"chunk_type"`
	Heading     string `json:"heading,omitempty"`
	ChunkIndex  int    `json:"chunk_index"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	TokenCount  int    `json:"token_count"`
	ContentHash string `json:"content_hash"`
}

// ChatLog represents a row in the chat_log table.
type ChatLog struct {
	SessionID        string `json:"session_id"`
	Message          string `json:"message"`
	Answer           string `json:"answer"`
	ContextDocuments int    `json:"context_documents"`
	ModelUsed        string `json:"model_used"`
	Language         string `json:"language,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// RetrievalResult holds a chunk with its retrieval score and document info.
type RetrievalResult struct {
	ChunkID     int64   `json:"chunk_id"`
	DocumentID  int64   `json:"document_id"`
	Content     string  `json:"content"`
	Heading     string  `json:"heading,omitempty"`
	ChunkType   string  `json:"chunk_type"`
	ChunkIndex  int     `json:"chunk_index"`
	StartOffset int     `json:"start_offset"`
	EndOffset   int     `json:"end_offset"`
	Filename    string  `json:"filename"`
	Score       float64 `json:"score"`
}

// Store wraps the SQLite database for all workdesk persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", embeddingDim)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

const documentColumns = `id, filename, format, content_hash, status, language, title, author,
	word_count, char_count, page_count, metadata, created_at, updated_at`

// UpsertDocument inserts a document or, when a row with the same content
// hash exists, refreshes its descriptive fields. Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (filename, format, content_hash, status, language, title, author,
			word_count, char_count, page_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			status = excluded.status,
			language = excluded.language,
			title = excluded.title,
			author = excluded.author,
			word_count = excluded.word_count,
			char_count = excluded.char_count,
			page_count = excluded.page_count,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`, doc.Filename, doc.Format, doc.ContentHash, doc.Status, nullString(doc.Language),
		nullString(doc.Title), nullString(doc.Author), doc.WordCount, doc.CharCount,
		doc.PageCount, nullString(doc.Metadata)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting document: %w", err)
	}
	return id, nil
}

// GetDocument returns the document with the given ID or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// GetDocumentByHash looks a document up by the SHA-256 of its bytes.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE content_hash = ?", hash)
	return scanDocument(row)
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the processing status of a document.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// DeleteDocument removes a document with its chunks and embeddings.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteChunks(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		return expectRow(res)
	})
}

// DeleteDocumentData removes all chunks and embeddings for a document
// but keeps the document record itself.
func (s *Store) DeleteDocumentData(ctx context.Context, docID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteChunks(ctx, tx, docID)
	})
}

func deleteChunks(ctx context.Context, tx *sql.Tx, docID int64) error {
	// vec0 tables do not take part in foreign keys.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM vec_chunks WHERE chunk_id IN (
			SELECT id FROM chunks WHERE document_id = ?
		)`, docID); err != nil {
		return err
	}
	// Triggers clean up FTS.
	_, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID)
	return err
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks and returns their IDs in order.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (document_id, content, chunk_type, heading, chunk_index,
				start_offset, end_offset, token_count, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			res, err := stmt.ExecContext(ctx,
				c.DocumentID, c.Content, c.ChunkType, c.Heading, c.ChunkIndex,
				c.StartOffset, c.EndOffset, c.TokenCount, c.ContentHash)
			if err != nil {
				return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetChunksByDocument returns all chunks of a document in chunk order.
func (s *Store) GetChunksByDocument(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, chunk_type, heading, chunk_index,
			start_offset, end_offset, token_count, content_hash
		FROM chunks WHERE document_id = ? ORDER BY chunk_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var heading sql.NullString
		var tokens sql.NullInt64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkType, &heading,
			&c.ChunkIndex, &c.StartOffset, &c.EndOffset, &tokens, &c.ContentHash); err != nil {
			return nil, err
		}
		c.Heading = heading.String
		c.TokenCount = int(tokens.Int64)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Embedding operations ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), s.embeddingDim)
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("serializing embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, blob)
	return err
}

// ChunkHasEmbedding checks if a specific chunk has a vector embedding.
func (s *Store) ChunkHasEmbedding(ctx context.Context, chunkID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vec_chunks WHERE chunk_id = ?", chunkID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

const resultColumns = `c.content, c.heading, c.chunk_type, c.chunk_index,
	c.start_offset, c.end_offset, c.document_id, d.filename`

// VectorSearch performs a KNN search returning the top-k nearest chunks.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]RetrievalResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("serializing query embedding: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.distance, `+resultColumns+`
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var distance float64
		r, err := scanResult(rows, &distance)
		if err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// FTSSearch performs a full-text search using FTS5 BM25 ranking. The query
// must already be valid FTS5 syntax.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, f.rank, `+resultColumns+`
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var rank float64
		r, err := scanResult(rows, &rank)
		if err != nil {
			return nil, err
		}
		// FTS5 rank is negative (lower = better), convert to positive score
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Chat log ---

// LogChat records one chat exchange.
func (s *Store) LogChat(ctx context.Context, l ChatLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_log (session_id, message, answer, context_documents, model_used,
			language, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.SessionID, l.Message, l.Answer, l.ContextDocuments, l.ModelUsed,
		nullString(l.Language), l.PromptTokens, l.CompletionTokens, l.TotalTokens)
	return err
}

// ChatHistory returns the logged exchanges of a session, oldest first.
func (s *Store) ChatHistory(ctx context.Context, sessionID string, limit int) ([]ChatLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, message, COALESCE(answer, ''), context_documents,
			COALESCE(model_used, ''), COALESCE(language, ''),
			prompt_tokens, completion_tokens, total_tokens
		FROM chat_log WHERE session_id = ? ORDER BY id LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ChatLog
	for rows.Next() {
		var l ChatLog
		if err := rows.Scan(&l.SessionID, &l.Message, &l.Answer, &l.ContextDocuments,
			&l.ModelUsed, &l.Language, &l.PromptTokens, &l.CompletionTokens, &l.TotalTokens); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DBStats holds counts of key database objects.
type DBStats struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	Embeddings int `json:"embeddings"`
	ChatLogs   int `json:"chat_logs"`
}

// DBStats returns counts of documents, chunks, embeddings and chat logs.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM vec_chunks", &stats.Embeddings},
		{"SELECT COUNT(*) FROM chat_log", &stats.ChatLogs},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var d Document
	var language, title, author, metadata sql.NullString
	var pages sql.NullInt64
	err := row.Scan(&d.ID, &d.Filename, &d.Format, &d.ContentHash, &d.Status,
		&language, &title, &author, &d.WordCount, &d.CharCount, &pages,
		&metadata, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Language = language.String
	d.Title = title.String
	d.Author = author.String
	d.PageCount = int(pages.Int64)
	d.Metadata = metadata.String
	return &d, nil
}

func scanResult(row scanner, score *float64) (RetrievalResult, error) {
	var r RetrievalResult
	var heading sql.NullString
	err := row.Scan(&r.ChunkID, score, &r.Content, &heading, &r.ChunkType, &r.ChunkIndex,
		&r.StartOffset, &r.EndOffset, &r.DocumentID, &r.Filename)
	r.Heading = heading.String
	return r, err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
