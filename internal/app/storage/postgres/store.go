package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/asset"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.PostStore = (*Store)(nil)
var _ storage.AssetStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrDuplicate
	}
	return err
}

// --- UserStore ---------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	subsJSON, err := json.Marshal(u.Subscriptions)
	if err != nil {
		return user.User{}, err
	}
	googleJSON, err := json.Marshal(u.Google)
	if err != nil {
		return user.User{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, address, openid, email, name, image, ens_name, role, subscriptions, google, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, u.ID, u.Address, u.OpenID, u.Email, u.Name, u.Image, u.EnsName, string(u.Role), subsJSON, googleJSON, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

const userColumns = `id, COALESCE(address, ''), COALESCE(openid, ''), email, name, image, ens_name, role, subscriptions, google, created_at, updated_at`

func (s *Store) scanUser(row *sql.Row) (user.User, error) {
	var (
		u         user.User
		role      string
		subsRaw   []byte
		googleRaw []byte
	)
	err := row.Scan(&u.ID, &u.Address, &u.OpenID, &u.Email, &u.Name, &u.Image, &u.EnsName, &role, &subsRaw, &googleRaw, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err)
	}
	u.Role = user.Role(role)
	if len(subsRaw) > 0 {
		_ = json.Unmarshal(subsRaw, &u.Subscriptions)
	}
	if len(googleRaw) > 0 && string(googleRaw) != "null" {
		u.Google = &user.GoogleTokens{}
		_ = json.Unmarshal(googleRaw, u.Google)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByAddress(ctx context.Context, address string) (user.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE address = $1`, address))
}

func (s *Store) GetUserByOpenID(ctx context.Context, openid string) (user.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE openid = $1`, openid))
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, mapError(err)
}

func (s *Store) UpdateSubscriptions(ctx context.Context, address string, subs []user.Subscription) error {
	subsJSON, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET subscriptions = $2, updated_at = $3 WHERE address = $1
	`, address, subsJSON, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateGoogleTokens(ctx context.Context, address string, tokens user.GoogleTokens) error {
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET google = $2, updated_at = $3 WHERE address = $1
	`, address, tokensJSON, time.Now().UTC())
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- PostStore ---------------------------------------------------------------

func (s *Store) CreatePost(ctx context.Context, p post.Post) (post.Post, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = post.StatusDraft
	}
	if p.GateType == "" {
		p.GateType = post.GateFree
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, user_id, type, title, content, description, image, status, gate_type, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.UserID, string(p.Type), p.Title, p.Content, p.Description, p.Image, string(p.Status), string(p.GateType), p.PublishedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return post.Post{}, mapError(err)
	}
	return p, nil
}

func (s *Store) UpdatePost(ctx context.Context, p post.Post) (post.Post, error) {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title = $2, content = $3, description = $4, image = $5, status = $6, gate_type = $7, published_at = $8, updated_at = $9
		WHERE id = $1
	`, p.ID, p.Title, p.Content, p.Description, p.Image, string(p.Status), string(p.GateType), p.PublishedAt, p.UpdatedAt)
	if err != nil {
		return post.Post{}, mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return post.Post{}, storage.ErrNotFound
	}
	return p, nil
}

// UpdatePostFields updates only the named columns, leaving status and
// published_at to their concurrent owners.
func (s *Store) UpdatePostFields(ctx context.Context, id string, upd storage.PostContentUpdate) (post.Post, error) {
	sets := []string{}
	args := []interface{}{id}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("title", upd.Title)
	add("content", upd.Content)
	add("description", upd.Description)

	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	query := `UPDATE posts SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + postColumns
	row := s.db.QueryRowContext(ctx, query, args...)
	p, err := scanPost(row.Scan)
	if err != nil {
		return post.Post{}, err
	}
	tags, err := s.tagsFor(ctx, id)
	if err != nil {
		return post.Post{}, err
	}
	p.Tags = tags
	return p, nil
}

const postColumns = `id, user_id, type, title, content, description, image, status, gate_type, published_at, created_at, updated_at`

func scanPost(scan func(dest ...interface{}) error) (post.Post, error) {
	var (
		p           post.Post
		typ         string
		status      string
		gateType    string
		publishedAt sql.NullTime
	)
	err := scan(&p.ID, &p.UserID, &typ, &p.Title, &p.Content, &p.Description, &p.Image, &status, &gateType, &publishedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return post.Post{}, mapError(err)
	}
	p.Type = post.Type(typ)
	p.Status = post.Status(status)
	p.GateType = post.GateType(gateType)
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}
	return p, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (post.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	p, err := scanPost(row.Scan)
	if err != nil {
		return post.Post{}, err
	}
	tags, err := s.tagsFor(ctx, id)
	if err != nil {
		return post.Post{}, err
	}
	p.Tags = tags
	return p, nil
}

func (s *Store) ListPosts(ctx context.Context) ([]post.Post, error) {
	return s.listPosts(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC`, true)
}

func (s *Store) ListPublishedPosts(ctx context.Context) ([]post.Post, error) {
	return s.listPosts(ctx, `SELECT `+postColumns+` FROM posts WHERE status = 'PUBLISHED' ORDER BY created_at DESC`, false)
}

func (s *Store) listPosts(ctx context.Context, query string, withTags bool) ([]post.Post, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]post.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	if withTags {
		for i := range result {
			tags, err := s.tagsFor(ctx, result[i].ID)
			if err != nil {
				return nil, err
			}
			result[i].Tags = tags
		}
	}
	return result, nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateTag(ctx context.Context, name string) (post.Tag, error) {
	t := post.Tag{ID: uuid.NewString(), Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, t.ID, t.Name).Scan(&t.ID)
	if err != nil {
		return post.Tag{}, mapError(err)
	}
	return t, nil
}

func (s *Store) AttachTag(ctx context.Context, postID, tagID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_tags (post_id, tag_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, postID, tagID)
	return mapError(err)
}

func (s *Store) tagsFor(ctx context.Context, postID string) ([]post.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name
		FROM tags t
		JOIN post_tags pt ON pt.tag_id = t.id
		WHERE pt.post_id = $1
		ORDER BY t.name
	`, postID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	tags := make([]post.Tag, 0)
	for rows.Next() {
		var t post.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, mapError(err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// --- AssetStore --------------------------------------------------------------

func (s *Store) CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, url, type, created_at) VALUES ($1, $2, $3, $4)
	`, a.ID, a.URL, a.Type, a.CreatedAt)
	if err != nil {
		return asset.Asset{}, mapError(err)
	}
	return a, nil
}

func (s *Store) ListAssets(ctx context.Context) ([]asset.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, type, created_at FROM assets ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]asset.Asset, 0)
	for rows.Next() {
		var a asset.Asset
		if err := rows.Scan(&a.ID, &a.URL, &a.Type, &a.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
