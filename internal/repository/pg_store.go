package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exot-sync/internal/model"
)

// PgStore keeps the collections in PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// keyColumns maps membership-replacing collections to their table and key.
var keyColumns = map[model.Collection][2]string{
	model.CollectionStudents:  {"students", "id"},
	model.CollectionUsers:     {"users", "id"},
	model.CollectionQuestions: {"questions", "id"},
	model.CollectionClasses:   {"classes", "name"},
}

// Begin starts a reconcile transaction.
func (s *PgStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// Snapshot reads every table inside one read-only repeatable-read transaction
// so a concurrent push is either fully visible or not at all.
func (s *PgStore) Snapshot(ctx context.Context, activityLimit int) (*model.Dataset, map[model.Collection]int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	ds := &model.Dataset{}
	if ds.Students, err = listStudents(ctx, tx); err != nil {
		return nil, nil, err
	}
	if ds.Users, err = listUsers(ctx, tx); err != nil {
		return nil, nil, err
	}
	if ds.Classes, err = listClasses(ctx, tx); err != nil {
		return nil, nil, err
	}
	if ds.Questions, err = listQuestions(ctx, tx); err != nil {
		return nil, nil, err
	}
	if ds.ActivityLog, err = listActivity(ctx, tx, activityLimit); err != nil {
		return nil, nil, err
	}
	if ds.ExaminerRewards, err = listRewards(ctx, tx); err != nil {
		return nil, nil, err
	}
	if ds.Settings, err = listSettings(ctx, tx); err != nil {
		return nil, nil, err
	}

	stamps := make(map[model.Collection]int64)
	rows, err := tx.Query(ctx, `SELECT collection, updated_at FROM sync_state`)
	if err != nil {
		return nil, nil, fmt.Errorf("list sync state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		var ts int64
		if err := rows.Scan(&c, &ts); err != nil {
			return nil, nil, err
		}
		stamps[model.Collection(c)] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return ds, stamps, nil
}

// TrimActivity deletes everything but the newest keep activity entries.
func (s *PgStore) TrimActivity(ctx context.Context, keep int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM activity_log WHERE id IN (
		   SELECT id FROM activity_log ORDER BY timestamp DESC, id DESC OFFSET $1
		 )`, keep)
	if err != nil {
		return 0, fmt.Errorf("trim activity: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the database for the health endpoint.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func listStudents(ctx context.Context, q pgx.Tx) ([]model.Student, error) {
	rows, err := q.Query(ctx,
		`SELECT id, name, class, type, qr_code, attended, attended_at, scores, scored_by, created_at
		 FROM students ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []model.Student
	for rows.Next() {
		var (
			s                model.Student
			typ              string
			scores, scoredBy []byte
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Class, &typ, &s.QRCode, &s.Attended, &s.AttendedAt, &scores, &scoredBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Type = model.StudentType(typ)
		if err := json.Unmarshal(scores, &s.Scores); err != nil {
			return nil, fmt.Errorf("student %s scores: %w", s.ID, err)
		}
		if err := json.Unmarshal(scoredBy, &s.ScoredBy); err != nil {
			return nil, fmt.Errorf("student %s scored_by: %w", s.ID, err)
		}
		s.AttendedAt = normalizePtr(s.AttendedAt)
		s.CreatedAt = model.NormalizeTime(s.CreatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func listUsers(ctx context.Context, q pgx.Tx) ([]model.User, error) {
	rows, err := q.Query(ctx,
		`SELECT id, username, password, name, role, subject, assigned_classes, qr_code, created_at
		 FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var (
			u        model.User
			role     string
			subject  *string
			assigned []byte
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Password, &u.Name, &role, &subject, &assigned, &u.QRCode, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = model.Role(role)
		u.Subject = toSubject(subject)
		if err := json.Unmarshal(assigned, &u.AssignedClasses); err != nil {
			return nil, fmt.Errorf("user %s assigned_classes: %w", u.ID, err)
		}
		if u.AssignedClasses == nil {
			u.AssignedClasses = []string{}
		}
		u.CreatedAt = model.NormalizeTime(u.CreatedAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

func listClasses(ctx context.Context, q pgx.Tx) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT name FROM classes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func listQuestions(ctx context.Context, q pgx.Tx) ([]model.Question, error) {
	rows, err := q.Query(ctx,
		`SELECT id, room, subject, content, type, target_student, storage_path FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		var (
			qu      model.Question
			subject string
		)
		if err := rows.Scan(&qu.ID, &qu.Room, &subject, &qu.Content, &qu.Type, &qu.TargetStudent, &qu.StoragePath); err != nil {
			return nil, err
		}
		qu.Subject = model.Subject(subject)
		out = append(out, qu)
	}
	return out, rows.Err()
}

func listActivity(ctx context.Context, q pgx.Tx, limit int) ([]model.ActivityEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT id, action, user_id, user_name, details, timestamp
		 FROM activity_log ORDER BY timestamp DESC, id DESC LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &e.UserName, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Timestamp = model.NormalizeTime(e.Timestamp)
		out = append(out, e)
	}
	return out, rows.Err()
}

func listRewards(ctx context.Context, q pgx.Tx) ([]model.ExaminerReward, error) {
	rows, err := q.Query(ctx,
		`SELECT id, examiner_id, examiner_name, subject, qr_code, generated_at, claimed, claimed_at
		 FROM examiner_rewards ORDER BY generated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	defer rows.Close()

	var out []model.ExaminerReward
	for rows.Next() {
		var (
			r       model.ExaminerReward
			subject *string
		)
		if err := rows.Scan(&r.ID, &r.ExaminerID, &r.ExaminerName, &subject, &r.QRCode, &r.GeneratedAt, &r.Claimed, &r.ClaimedAt); err != nil {
			return nil, err
		}
		r.Subject = toSubject(subject)
		r.GeneratedAt = model.NormalizeTime(r.GeneratedAt)
		r.ClaimedAt = normalizePtr(r.ClaimedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func listSettings(ctx context.Context, q pgx.Tx) (model.Settings, error) {
	rows, err := q.Query(ctx, `SELECT key_name, value FROM settings ORDER BY key_name`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := model.Settings{}
	for rows.Next() {
		var (
			key string
			val []byte
		)
		if err := rows.Scan(&key, &val); err != nil {
			return nil, err
		}
		out[key] = json.RawMessage(val)
	}
	return out, rows.Err()
}

// ─── Transaction ───────────────────────────────────────────────────────────

type pgTx struct {
	tx   pgx.Tx
	done bool
}

func (t *pgTx) DeleteAbsent(ctx context.Context, c model.Collection, keep []string) (int64, error) {
	tc, ok := keyColumns[c]
	if !ok {
		return 0, fmt.Errorf("%s does not replace membership", c)
	}
	if keep == nil {
		keep = []string{}
	}
	tag, err := t.tx.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE NOT (%s = ANY($1))`, tc[0], tc[1]), keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) UpsertStudent(ctx context.Context, s *model.Student) error {
	scores, err := json.Marshal(s.Scores)
	if err != nil {
		return err
	}
	scoredBy, err := json.Marshal(s.ScoredBy)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO students (id, name, class, type, qr_code, attended, attended_at, scores, scored_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, class = EXCLUDED.class, type = EXCLUDED.type,
		   attended = EXCLUDED.attended, attended_at = EXCLUDED.attended_at,
		   scores = EXCLUDED.scores, scored_by = EXCLUDED.scored_by`,
		s.ID, s.Name, s.Class, string(s.Type), s.QRCode, s.Attended, s.AttendedAt,
		string(scores), string(scoredBy), orNow(s.CreatedAt),
	)
	return err
}

func (t *pgTx) UpsertUser(ctx context.Context, u *model.User) error {
	assigned, err := json.Marshal(nonNilStrings(u.AssignedClasses))
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO users (id, username, password, name, role, subject, assigned_classes, qr_code, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   password = EXCLUDED.password, name = EXCLUDED.name, role = EXCLUDED.role,
		   subject = EXCLUDED.subject, assigned_classes = EXCLUDED.assigned_classes`,
		u.ID, u.Username, u.Password, u.Name, string(u.Role), fromSubject(u.Subject),
		string(assigned), u.QRCode, orNow(u.CreatedAt),
	)
	return err
}

func (t *pgTx) UpsertQuestion(ctx context.Context, q *model.Question) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO questions (id, room, subject, content, type, target_student, storage_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   room = EXCLUDED.room, subject = EXCLUDED.subject,
		   content = EXCLUDED.content, storage_path = EXCLUDED.storage_path`,
		q.ID, q.Room, string(q.Subject), q.Content, q.Type, q.TargetStudent, q.StoragePath,
	)
	return err
}

func (t *pgTx) UpsertActivity(ctx context.Context, e *model.ActivityEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO activity_log (id, action, user_id, user_name, details, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET action = EXCLUDED.action, details = EXCLUDED.details`,
		e.ID, e.Action, e.UserID, e.UserName, e.Details, orNow(e.Timestamp),
	)
	return err
}

func (t *pgTx) UpsertReward(ctx context.Context, r *model.ExaminerReward) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO examiner_rewards (id, examiner_id, examiner_name, subject, qr_code, generated_at, claimed, claimed_at)
		 SELECT $1::varchar, $2::varchar, $3::varchar, $4::varchar, $5::varchar, $6::timestamptz, $7::boolean, $8::timestamptz
		 WHERE NOT EXISTS (SELECT 1 FROM examiner_rewards WHERE examiner_id = $2 AND id <> $1)
		 ON CONFLICT (id) DO UPDATE SET claimed = EXCLUDED.claimed, claimed_at = EXCLUDED.claimed_at`,
		r.ID, r.ExaminerID, r.ExaminerName, fromSubject(r.Subject), r.QRCode, orNow(r.GeneratedAt), r.Claimed, r.ClaimedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) EnsureClass(ctx context.Context, name string) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO classes (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	return err
}

func (t *pgTx) UpsertSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO settings (key_name, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key_name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, string(value))
	return err
}

func (t *pgTx) SetUpdatedAt(ctx context.Context, c model.Collection, ts int64, keepNewer bool) error {
	query := `INSERT INTO sync_state (collection, updated_at) VALUES ($1, $2)
		 ON CONFLICT (collection) DO UPDATE SET updated_at = EXCLUDED.updated_at`
	if keepNewer {
		query = `INSERT INTO sync_state (collection, updated_at) VALUES ($1, $2)
		 ON CONFLICT (collection) DO UPDATE SET updated_at = GREATEST(sync_state.updated_at, EXCLUDED.updated_at)`
	}
	_, err := t.tx.Exec(ctx, query, string(c), ts)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// ─── Helpers ───────────────────────────────────────────────────────────────

func toSubject(s *string) *model.Subject {
	if s == nil {
		return nil
	}
	v := model.Subject(*s)
	return &v
}

func fromSubject(s *model.Subject) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func normalizePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := model.NormalizeTime(*t)
	return &v
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return model.Now()
	}
	return t
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
