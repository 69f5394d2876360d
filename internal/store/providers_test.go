package store

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/cruciblehq/crucible/internal/domain"
)

func providerRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "name", "kind", "api_key_encrypted", "endpoint_url",
		"models", "image_models", "is_default", "created_at", "updated_at",
	})
}

func TestCreateProviderDuplicateName(t *testing.T) {
	st, mock, ctx := mockStore(t)

	mock.ExpectExec("INSERT INTO providers").
		WithArgs("prv_1", "usr_1", "personal", domain.ProviderKindOpenAI, "ciphertext", pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), false, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := st.CreateProvider(ctx, &domain.Provider{
		ID:              "prv_1",
		UserID:          "usr_1",
		Name:            "personal",
		Kind:            domain.ProviderKindOpenAI,
		APIKeyEncrypted: "ciphertext",
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetProviderByName(t *testing.T) {
	st, mock, ctx := mockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM providers").
		WithArgs("usr_1", "personal").
		WillReturnRows(providerRows().
			AddRow("prv_1", "usr_1", "personal", domain.ProviderKindAnthropic, "ciphertext", nil,
				[]string{"claude-sonnet-4-5"}, []string{}, true, now, now))

	p, err := st.GetProviderByName(ctx, "usr_1", "personal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Kind != domain.ProviderKindAnthropic {
		t.Errorf("expected anthropic, got %s", p.Kind)
	}
	if len(p.Models) != 1 || p.Models[0] != "claude-sonnet-4-5" {
		t.Errorf("models not scanned: %v", p.Models)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetDefaultProviderNone(t *testing.T) {
	st, mock, ctx := mockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM providers").
		WithArgs("usr_1").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetDefaultProvider(ctx, "usr_1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetDefaultProviderClearsOthersFirst(t *testing.T) {
	st, mock, ctx := mockStore(t)

	mock.ExpectExec("UPDATE providers SET is_default = FALSE").
		WithArgs("usr_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec("UPDATE providers SET is_default = TRUE").
		WithArgs("prv_2", "usr_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := st.SetDefaultProvider(ctx, "prv_2", "usr_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSetDefaultProviderUnknownID(t *testing.T) {
	st, mock, ctx := mockStore(t)

	mock.ExpectExec("UPDATE providers SET is_default = FALSE").
		WithArgs("usr_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec("UPDATE providers SET is_default = TRUE").
		WithArgs("prv_ghost", "usr_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.SetDefaultProvider(ctx, "prv_ghost", "usr_1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestDeleteProviderNotFound(t *testing.T) {
	st, mock, ctx := mockStore(t)

	mock.ExpectExec("UPDATE providers SET deleted_at").
		WithArgs("prv_ghost", "usr_1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.DeleteProvider(ctx, "prv_ghost", "usr_1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
