package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func testServer() models.ServerConfig {
	return models.ServerConfig{
		ID:        "srv_1",
		Name:      "filesystem",
		Transport: models.TransportConfig{Type: models.TransportStdio, Command: "mcp-fs"},
		CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestServerConfigRepository_Save(t *testing.T) {
	mock := newMock(t)
	repo := &ServerConfigRepository{}
	cfg := testServer()

	mock.ExpectExec("INSERT INTO toolrouter_servers").
		WithArgs(
			"srv_1", "filesystem", (*string)(nil), "stdio",
			pgxmock.AnyArg(), cfg.CreatedAt, pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Save(inMockTx(mock), cfg); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestServerConfigRepository_SaveRejectsEmptyID(t *testing.T) {
	repo := &ServerConfigRepository{}
	err := repo.Save(context.Background(), models.ServerConfig{Name: "x"})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestServerConfigRepository_GetByID(t *testing.T) {
	mock := newMock(t)
	repo := &ServerConfigRepository{}
	blob, err := json.Marshal(testServer())
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery("FROM toolrouter_servers").
		WithArgs("srv_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "config"}).AddRow("srv_1", blob))

	got, err := repo.GetByID(inMockTx(mock), "srv_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "filesystem" || got.Transport.Command != "mcp-fs" {
		t.Errorf("unexpected config %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestServerConfigRepository_GetByID_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := &ServerConfigRepository{}

	mock.ExpectQuery("FROM toolrouter_servers").
		WithArgs("srv_missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(inMockTx(mock), "srv_missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServerConfigRepository_Delete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"existing", 1, nil},
		{"missing", 0, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			repo := &ServerConfigRepository{}

			mock.ExpectExec("UPDATE toolrouter_servers SET deleted_at").
				WithArgs("srv_1", pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			err := repo.Delete(inMockTx(mock), "srv_1")
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestServerConfigRepository_List(t *testing.T) {
	mock := newMock(t)
	repo := &ServerConfigRepository{}

	a := testServer()
	b := testServer()
	b.ID = "srv_2"
	b.Name = "web"
	blobA, _ := json.Marshal(a)
	blobB, _ := json.Marshal(b)

	mock.ExpectQuery("FROM toolrouter_servers").
		WillReturnRows(pgxmock.NewRows([]string{"id", "config"}).
			AddRow("srv_1", blobA).
			AddRow("srv_2", blobB))

	servers, err := repo.List(inMockTx(mock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 2 || servers[1].Name != "web" {
		t.Errorf("unexpected servers %+v", servers)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
