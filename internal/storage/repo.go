package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

const profileColumns = "id, name, business_name, website, niche, audience, offer, tone, " +
	"forbidden_words_json, features_json, avatars_json, goals_json, sops_json, custom_json, " +
	"created_at, updated_at"

func marshalList[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func marshalMap(v map[string]string) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) CreateProfile(ctx context.Context, p Profile) (int64, error) {
	forbidden, err := marshalList(p.ForbiddenWords)
	if err != nil {
		return 0, fmt.Errorf("marshal forbidden words: %w", err)
	}
	features, err := marshalList(p.Features)
	if err != nil {
		return 0, fmt.Errorf("marshal features: %w", err)
	}
	avatars, err := marshalList(p.Avatars)
	if err != nil {
		return 0, fmt.Errorf("marshal avatars: %w", err)
	}
	goals, err := marshalList(p.Goals)
	if err != nil {
		return 0, fmt.Errorf("marshal goals: %w", err)
	}
	sops, err := marshalList(p.SOPs)
	if err != nil {
		return 0, fmt.Errorf("marshal sops: %w", err)
	}
	custom, err := marshalMap(p.CustomFields)
	if err != nil {
		return 0, fmt.Errorf("marshal custom fields: %w", err)
	}

	q := s.sql.Insert("profiles").
		Columns("name", "business_name", "website", "niche", "audience", "offer", "tone",
			"forbidden_words_json", "features_json", "avatars_json", "goals_json", "sops_json", "custom_json").
		Values(p.Name, p.BusinessName, p.Website, p.Niche, p.Audience, p.Offer, p.Tone,
			forbidden, features, avatars, goals, sops, custom)

	if s.driver == "postgres" {
		q = q.Suffix("RETURNING id")
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build create profile query: %w", err)
		}
		var id int64
		if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("create profile: %w", err)
		}
		return id, nil
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build create profile query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("create profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create profile id: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateProfile(ctx context.Context, p Profile) error {
	forbidden, err := marshalList(p.ForbiddenWords)
	if err != nil {
		return fmt.Errorf("marshal forbidden words: %w", err)
	}
	features, err := marshalList(p.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	avatars, err := marshalList(p.Avatars)
	if err != nil {
		return fmt.Errorf("marshal avatars: %w", err)
	}
	goals, err := marshalList(p.Goals)
	if err != nil {
		return fmt.Errorf("marshal goals: %w", err)
	}
	sops, err := marshalList(p.SOPs)
	if err != nil {
		return fmt.Errorf("marshal sops: %w", err)
	}
	custom, err := marshalMap(p.CustomFields)
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}

	q := s.sql.Update("profiles").
		Set("name", p.Name).
		Set("business_name", p.BusinessName).
		Set("website", p.Website).
		Set("niche", p.Niche).
		Set("audience", p.Audience).
		Set("offer", p.Offer).
		Set("tone", p.Tone).
		Set("forbidden_words_json", forbidden).
		Set("features_json", features).
		Set("avatars_json", avatars).
		Set("goals_json", goals).
		Set("sops_json", sops).
		Set("custom_json", custom).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"id": p.ID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update profile query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, id int64) (Profile, error) {
	q := s.sql.Select(profileColumns).From("profiles").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Profile{}, fmt.Errorf("build get profile query: %w", err)
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]Profile, error) {
	q := s.sql.Select(profileColumns).From("profiles").OrderBy("created_at ASC, id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list profiles query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := make([]Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile rows: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	q := s.sql.Delete("profiles").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete profile query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var forbidden, features, avatars, goals, sops, custom string
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.BusinessName,
		&p.Website,
		&p.Niche,
		&p.Audience,
		&p.Offer,
		&p.Tone,
		&forbidden,
		&features,
		&avatars,
		&goals,
		&sops,
		&custom,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return Profile{}, err
	}
	if err := json.Unmarshal([]byte(forbidden), &p.ForbiddenWords); err != nil {
		return Profile{}, fmt.Errorf("decode forbidden words: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return Profile{}, fmt.Errorf("decode features: %w", err)
	}
	if err := json.Unmarshal([]byte(avatars), &p.Avatars); err != nil {
		return Profile{}, fmt.Errorf("decode avatars: %w", err)
	}
	if err := json.Unmarshal([]byte(goals), &p.Goals); err != nil {
		return Profile{}, fmt.Errorf("decode goals: %w", err)
	}
	if err := json.Unmarshal([]byte(sops), &p.SOPs); err != nil {
		return Profile{}, fmt.Errorf("decode sops: %w", err)
	}
	if err := json.Unmarshal([]byte(custom), &p.CustomFields); err != nil {
		return Profile{}, fmt.Errorf("decode custom fields: %w", err)
	}
	return p, nil
}

func (s *Store) CreatePrompt(ctx context.Context, p Prompt) (int64, error) {
	q := s.sql.Insert("prompts").
		Columns("title", "body", "category").
		Values(p.Title, p.Body, p.Category)

	if s.driver == "postgres" {
		q = q.Suffix("RETURNING id")
		sqlStr, args, err := q.ToSql()
		if err != nil {
			return 0, fmt.Errorf("build create prompt query: %w", err)
		}
		var id int64
		if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("create prompt: %w", err)
		}
		return id, nil
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build create prompt query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("create prompt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create prompt id: %w", err)
	}
	return id, nil
}

func (s *Store) ListPrompts(ctx context.Context) ([]Prompt, error) {
	q := s.sql.Select("id", "title", "body", "category", "created_at").
		From("prompts").
		OrderBy("created_at ASC, id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list prompts query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	out := make([]Prompt, 0)
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.ID, &p.Title, &p.Body, &p.Category, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompt rows: %w", err)
	}
	return out, nil
}

func (s *Store) DeletePrompt(ctx context.Context, id int64) error {
	q := s.sql.Delete("prompts").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete prompt query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, m ChatMessage) error {
	q := s.sql.Insert("messages").
		Columns("profile_id", "role", "content", "provider", "model").
		Values(m.ProfileID, m.Role, m.Content, m.Provider, m.Model)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build append message query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit of the newest turns for a profile,
// oldest first so the result can be used as conversation history directly.
func (s *Store) RecentMessages(ctx context.Context, profileID int64, limit int) ([]ChatMessage, error) {
	q := s.sql.Select("id", "profile_id", "role", "content", "provider", "model", "created_at").
		From("messages").
		Where(sq.Eq{"profile_id": profileID}).
		OrderBy("id DESC").
		Limit(uint64(limit))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent messages query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.ProfileID, &m.Role, &m.Content, &m.Provider, &m.Model, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	q := s.sql.Insert("settings").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value=excluded.value")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set setting query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	q := s.sql.Select("value").From("settings").Where(sq.Eq{"key": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get setting query: %w", err)
	}
	var value string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
