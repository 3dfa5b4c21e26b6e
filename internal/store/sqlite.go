package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/joescharf/tracker/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string from ulid's shared monotonic
// entropy source.
func newULID() string {
	return ulid.Make().String()
}

// constraintErr translates SQLite constraint violations into store sentinel
// errors. It returns nil for any other error.
func constraintErr(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return nil
	}
	msg := se.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY"):
		return ErrInvalidReference
	case strings.Contains(msg, "UNIQUE"), strings.Contains(msg, "PRIMARY KEY"):
		return ErrConflict
	}
	return nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Reset deletes all rows from every domain table and restarts the integer
// id sequences. Used by the seed command.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"issue_tags", "issues", "tags", "api_keys", "sessions", "users"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name IN ('issues', 'tags')"); err != nil {
		return fmt.Errorf("reset sequences: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Users ---

const userColumns = `id, email, name, password_hash, email_verified, created_at, updated_at`

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.EmailVerified, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if cerr := constraintErr(err); cerr != nil {
			return fmt.Errorf("user with email %s: %w", u.Email, cerr)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	err := s.db.GetContext(ctx, u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u := &models.User{}
	err := s.db.GetContext(ctx, u, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context, filter UserListFilter) ([]*models.User, int, error) {
	where := ""
	var args []any
	if filter.Search != "" {
		where = " WHERE name LIKE ? OR email LIKE ?"
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM users"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users` + where + ` ORDER BY name, email`
	query, args = paginate(query, args, filter.Pagination)

	var users []*models.User
	if err := s.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *models.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET email=?, name=?, password_hash=?, email_verified=?, updated_at=? WHERE id=?`,
		u.Email, u.Name, u.PasswordHash, u.EmailVerified, u.UpdatedAt, u.ID,
	)
	if err != nil {
		if cerr := constraintErr(err); cerr != nil {
			return fmt.Errorf("user with email %s: %w", u.Email, cerr)
		}
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", u.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Tags ---

const tagColumns = `id, name, color, created_at, updated_at`

func (s *SQLiteStore) CreateTag(ctx context.Context, tag *models.Tag) error {
	if tag.Color == "" {
		tag.Color = models.DefaultTagColor
	}
	now := time.Now().UTC()
	tag.CreatedAt = now
	tag.UpdatedAt = now

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (name, color, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		tag.Name, tag.Color, tag.CreatedAt, tag.UpdatedAt,
	)
	if err != nil {
		if cerr := constraintErr(err); cerr != nil {
			return fmt.Errorf("tag %q: %w", tag.Name, cerr)
		}
		return fmt.Errorf("create tag: %w", err)
	}
	tag.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTag(ctx context.Context, id int64) (*models.Tag, error) {
	t := &models.Tag{}
	err := s.db.GetContext(ctx, t, `SELECT `+tagColumns+` FROM tags WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTagByName(ctx context.Context, name string) (*models.Tag, error) {
	t := &models.Tag{}
	err := s.db.GetContext(ctx, t, `SELECT `+tagColumns+` FROM tags WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag by name: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]*models.Tag, error) {
	var tags []*models.Tag
	if err := s.db.SelectContext(ctx, &tags, `SELECT `+tagColumns+` FROM tags ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

func (s *SQLiteStore) UpdateTag(ctx context.Context, tag *models.Tag) error {
	tag.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE tags SET name=?, color=?, updated_at=? WHERE id=?`,
		tag.Name, tag.Color, tag.UpdatedAt, tag.ID,
	)
	if err != nil {
		if cerr := constraintErr(err); cerr != nil {
			return fmt.Errorf("tag %q: %w", tag.Name, cerr)
		}
		return fmt.Errorf("update tag: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("tag %d: %w", tag.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteTag(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Issues ---

const issueColumns = `id, title, description, status, priority, assigned_user_id, created_by_user_id, created_at, updated_at`

func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue, tagIDs []int64) error {
	if issue.Status == "" {
		issue.Status = models.IssueStatusNotStarted
	}
	if issue.Priority == "" {
		issue.Priority = models.IssuePriorityMedium
	}
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkReferences(ctx, tx, issue.AssignedUserID, tagIDs); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO issues (title, description, status, priority, assigned_user_id, created_by_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.Title, issue.Description, string(issue.Status), string(issue.Priority),
		issue.AssignedUserID, issue.CreatedByUserID, issue.CreatedAt, issue.UpdatedAt,
	)
	if err != nil {
		if cerr := constraintErr(err); cerr != nil {
			return fmt.Errorf("create issue: %w", cerr)
		}
		return fmt.Errorf("create issue: %w", err)
	}
	if issue.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	if err := replaceIssueTags(ctx, tx, issue.ID, tagIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	issue := &models.Issue{}
	err := s.db.GetContext(ctx, issue, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}

	if err := s.loadIssueRelations(ctx, []*models.Issue{issue}); err != nil {
		return nil, err
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, int, error) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.AssignedUserID != "" {
		conditions = append(conditions, "assigned_user_id = ?")
		args = append(args, filter.AssignedUserID)
	}
	if filter.CreatedByUserID != "" {
		conditions = append(conditions, "created_by_user_id = ?")
		args = append(args, filter.CreatedByUserID)
	}
	if filter.TagID != 0 {
		conditions = append(conditions, "id IN (SELECT issue_id FROM issue_tags WHERE tag_id = ?)")
		args = append(args, filter.TagID)
	}
	if filter.Search != "" {
		conditions = append(conditions, "(title LIKE ? OR description LIKE ?)")
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM issues"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	query := `SELECT ` + issueColumns + ` FROM issues` + where + ` ORDER BY created_at DESC, id DESC`
	query, args = paginate(query, args, filter.Pagination)

	var issues []*models.Issue
	if err := s.db.SelectContext(ctx, &issues, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}
	if err := s.loadIssueRelations(ctx, issues); err != nil {
		return nil, 0, err
	}
	return issues, total, nil
}

func (s *SQLiteStore) UpdateIssue(ctx context.Context, issue *models.Issue, tagIDs []int64) error {
	issue.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkReferences(ctx, tx, issue.AssignedUserID, tagIDs); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE issues SET title=?, description=?, status=?, priority=?, assigned_user_id=?, updated_at=?
		WHERE id=?`,
		issue.Title, issue.Description, string(issue.Status), string(issue.Priority),
		issue.AssignedUserID, issue.UpdatedAt, issue.ID,
	)
	if err != nil {
		if cerr := constraintErr(err); cerr != nil {
			return fmt.Errorf("update issue: %w", cerr)
		}
		return fmt.Errorf("update issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue %d: %w", issue.ID, ErrNotFound)
	}

	if tagIDs != nil {
		if err := clearIssueTags(ctx, tx, issue.ID); err != nil {
			return err
		}
		if err := replaceIssueTags(ctx, tx, issue.ID, tagIDs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SetIssueTags replaces the tag set of an issue and bumps its updated_at.
func (s *SQLiteStore) SetIssueTags(ctx context.Context, issueID int64, tagIDs []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, "UPDATE issues SET updated_at = ? WHERE id = ?", time.Now().UTC(), issueID)
	if err != nil {
		return fmt.Errorf("set issue tags: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("issue %d: %w", issueID, ErrNotFound)
	}

	if err := checkReferences(ctx, tx, nil, tagIDs); err != nil {
		return err
	}
	if err := clearIssueTags(ctx, tx, issueID); err != nil {
		return err
	}
	if err := replaceIssueTags(ctx, tx, issueID, tagIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteIssue(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM issues WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	return nil
}

// checkReferences verifies the assignee and tags exist so callers get a
// precise error instead of a bare foreign key failure.
func checkReferences(ctx context.Context, tx *sqlx.Tx, assignedUserID *string, tagIDs []int64) error {
	if assignedUserID != nil {
		var n int
		if err := tx.GetContext(ctx, &n, "SELECT COUNT(*) FROM users WHERE id = ?", *assignedUserID); err != nil {
			return fmt.Errorf("check assignee: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("assigned user %s does not exist: %w", *assignedUserID, ErrInvalidReference)
		}
	}

	ids := uniqueIDs(tagIDs)
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("SELECT id FROM tags WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("build tag check: %w", err)
	}
	var found []int64
	if err := tx.SelectContext(ctx, &found, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("check tags: %w", err)
	}
	if len(found) == len(ids) {
		return nil
	}
	known := make(map[int64]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	for _, id := range ids {
		if !known[id] {
			return fmt.Errorf("tag %d does not exist: %w", id, ErrInvalidReference)
		}
	}
	return nil
}

func clearIssueTags(ctx context.Context, tx *sqlx.Tx, issueID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM issue_tags WHERE issue_id = ?", issueID); err != nil {
		return fmt.Errorf("clear issue tags: %w", err)
	}
	return nil
}

func replaceIssueTags(ctx context.Context, tx *sqlx.Tx, issueID int64, tagIDs []int64) error {
	for _, tagID := range uniqueIDs(tagIDs) {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO issue_tags (issue_id, tag_id) VALUES (?, ?)", issueID, tagID); err != nil {
			return fmt.Errorf("tag issue: %w", err)
		}
	}
	return nil
}

// loadIssueRelations fills the creator, assignee and tags of each issue
// with one query per relation.
func (s *SQLiteStore) loadIssueRelations(ctx context.Context, issues []*models.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	issueIDs := make([]int64, 0, len(issues))
	userSet := make(map[string]bool)
	for _, issue := range issues {
		issue.Tags = []models.Tag{}
		issueIDs = append(issueIDs, issue.ID)
		userSet[issue.CreatedByUserID] = true
		if issue.AssignedUserID != nil {
			userSet[*issue.AssignedUserID] = true
		}
	}

	userIDs := make([]string, 0, len(userSet))
	for id := range userSet {
		userIDs = append(userIDs, id)
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return fmt.Errorf("build user lookup: %w", err)
	}
	var users []*models.User
	if err := s.db.SelectContext(ctx, &users, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load issue users: %w", err)
	}
	byID := make(map[string]*models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	type issueTag struct {
		IssueID int64 `db:"issue_id"`
		models.Tag
	}
	query, args, err = sqlx.In(`SELECT it.issue_id, t.id, t.name, t.color, t.created_at, t.updated_at
		FROM issue_tags it JOIN tags t ON t.id = it.tag_id
		WHERE it.issue_id IN (?) ORDER BY t.name`, issueIDs)
	if err != nil {
		return fmt.Errorf("build tag lookup: %w", err)
	}
	var rows []issueTag
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("load issue tags: %w", err)
	}
	tagsByIssue := make(map[int64][]models.Tag)
	for _, r := range rows {
		tagsByIssue[r.IssueID] = append(tagsByIssue[r.IssueID], r.Tag)
	}

	for _, issue := range issues {
		issue.CreatedByUser = byID[issue.CreatedByUserID]
		if issue.AssignedUserID != nil {
			issue.AssignedUser = byID[*issue.AssignedUserID]
		}
		if tags, ok := tagsByIssue[issue.ID]; ok {
			issue.Tags = tags
		}
	}
	return nil
}

// --- Sessions ---

const sessionColumns = `id, token_hash, user_id, expires_at, user_agent, ip_address, created_at`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	sess.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TokenHash, sess.UserID, sess.ExpiresAt.UTC(), sess.UserAgent, sess.IPAddress, sess.CreatedAt,
	)
	if err != nil {
		if cerr := constraintErr(err); cerr != nil {
			return fmt.Errorf("create session: %w", cerr)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	sess := &models.Session{}
	err := s.db.GetContext(ctx, sess, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = ?`, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteUserSessions(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// --- API keys ---

const apiKeyColumns = `id, user_id, name, prefix, key_hash, last_used_at, created_at`

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = newULID()
	}
	key.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (`+apiKeyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.UserID, key.Name, key.Prefix, key.KeyHash, key.LastUsedAt, key.CreatedAt,
	)
	if err != nil {
		if cerr := constraintErr(err); cerr != nil {
			return fmt.Errorf("create api key: %w", cerr)
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	key := &models.APIKey{}
	err := s.db.GetContext(ctx, key, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("api key %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", at.UTC(), id); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// --- helpers ---

func paginate(query string, args []any, p Pagination) (string, []any) {
	if p.Limit <= 0 {
		return query, args
	}
	return query + " LIMIT ? OFFSET ?", append(args, p.Limit, p.Offset())
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
