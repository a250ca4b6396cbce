package sqlvalidator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_RejectsMutatingStatements(t *testing.T) {
	statements := []string{
		"DROP TABLE users",
		"DELETE FROM orders WHERE id = 1",
		"INSERT INTO orders (id) VALUES (1)",
		"UPDATE users SET name = 'x'",
		"TRUNCATE TABLE logs",
		"ALTER TABLE users ADD COLUMN x INT",
		"CREATE TABLE x (id INT)",
		"GRANT ALL ON users TO bob",
		"REVOKE ALL ON users FROM bob",
		"EXECUTE stmt",
		"CALL my_proc()",
		"SHOW TABLES",
		"DESCRIBE users",
		"EXPLAIN SELECT * FROM users",
		"LOAD DATA INFILE 'x' INTO TABLE users",
		"LOCK TABLES users WRITE",
		"REPLACE INTO users VALUES (1)",
		"SET GLOBAL x = 1",
	}
	for _, s := range statements {
		r := Validate(s, false)
		assert.Falsef(t, r.OK, "expected rejection for %q", s)
	}
}

func TestValidate_AcceptsCleanSelectAndWith(t *testing.T) {
	statements := []string{
		"SELECT * FROM orders",
		"SELECT id, name FROM users WHERE id = 1",
		"WITH recent AS (SELECT * FROM orders) SELECT * FROM recent",
		"SELECT COUNT(*) AS cnt FROM orders",
	}
	for _, s := range statements {
		r := Validate(s, false)
		assert.Truef(t, r.OK, "expected acceptance for %q, got reason %q", s, r.Reason)
	}
}

func TestValidate_RejectsInjectionShapes(t *testing.T) {
	cases := []string{
		"SELECT * FROM users; DROP TABLE users",
		"SELECT * FROM users /* comment */ WHERE id = 1",
		"SELECT * FROM users -- comment\nWHERE id = 1",
		"SELECT * FROM users WHERE name = 'a' OR '1'='1'",
		`SELECT * FROM users WHERE name = "a" OR "1"="1"`,
		"SELECT * FROM users WHERE id = (1",
		"SELECT * FROM users WHERE name = 'unterminated",
	}
	for _, s := range cases {
		r := Validate(s, false)
		assert.Falsef(t, r.OK, "expected rejection for %q", s)
	}
}

func TestValidate_StrictModeRejectsDangerousFunctions(t *testing.T) {
	cases := []string{
		"SELECT LOAD_FILE('/etc/passwd')",
		"SELECT SYSTEM('ls')",
		"SELECT EXEC('ls')",
		"SELECT EVAL('1+1')",
		"SELECT SHELL('ls')",
	}
	for _, s := range cases {
		assert.True(t, Validate(s, false).OK, "permissive mode should accept %q", s)
		assert.False(t, Validate(s, true).OK, "strict mode should reject %q", s)
	}

	// INTO OUTFILE/DUMPFILE are already rejected in permissive mode because
	// the bare "INTO" token is always banned (spec.md §4.1 base keyword list).
	assert.False(t, Validate("SELECT * FROM users INTO OUTFILE '/tmp/x'", false).OK)
}

func TestValidate_StrictModeLengthAndNesting(t *testing.T) {
	long := "SELECT * FROM users WHERE id IN (" + repeat("1,", 6000) + "1)"
	assert.False(t, Validate(long, true).OK)

	deep := "SELECT * FROM users WHERE id = " + repeat("(", 60) + "1" + repeat(")", 60)
	assert.False(t, Validate(deep, true).OK)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestSanitizeLimit(t *testing.T) {
	assert.Equal(t, 100, SanitizeLimit(nil))
	assert.Equal(t, 1, SanitizeLimit(intPtr(-5)))
	assert.Equal(t, 10000, SanitizeLimit(intPtr(999999)))
	assert.Equal(t, 50, SanitizeLimit(intPtr(50)))
}

func intPtr(n int) *int { return &n }

func TestApplyLimit_Idempotence(t *testing.T) {
	withoutLimit := "SELECT * FROM orders"
	assert.Equal(t, "SELECT * FROM orders LIMIT 100", ApplyLimit(withoutLimit, 100))

	withLimit := "SELECT * FROM orders LIMIT 10"
	assert.Equal(t, withLimit, ApplyLimit(withLimit, 100))
}
