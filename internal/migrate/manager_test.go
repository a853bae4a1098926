package migrate

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	got := splitStatements("create table a (x text default ';');\ninsert into a values ('b;c');\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
}

func TestCollectSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("select 2;")},
		"0001_a.up.sql":   {Data: []byte("select 1;")},
		"0001_a.down.sql": {Data: []byte("select 0;")},
		"README.md":       {Data: []byte("docs")},
	}
	ups, err := collectSQL(fsys, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(ups) != 2 || ups[0] != "0001_a.up.sql" || ups[1] != "0002_b.up.sql" {
		t.Fatalf("unexpected order %v", ups)
	}
	seeds, err := collectSQL(fsys, ".sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("down files must not be treated as seeds: %v", seeds)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	migrations, seeds := Embedded()
	ups, err := collectSQL(migrations, ".up.sql")
	if err != nil || len(ups) == 0 {
		t.Fatalf("expected embedded migrations, got %v %v", ups, err)
	}
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := migrations.Open(down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
	files, err := collectSQL(seeds, ".sql")
	if err != nil || len(files) == 0 {
		t.Fatalf("expected embedded seeds, got %v %v", files, err)
	}
}

func TestUpAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("create table a (id text);")},
		"0002_b.up.sql": {Data: []byte("create table b (id text); create index b_idx on b (id);")},
	}

	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_seeds")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create index b_idx")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("insert into schema_migrations")).
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewManager(db, fsys, nil).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRequiresDownFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	fsys := fstest.MapFS{"0001_a.up.sql": {Data: []byte("select 1;")}}
	if err := NewManager(db, fsys, nil).Down(context.Background()); err == nil {
		t.Fatal("expected error for missing down migration")
	}
}
