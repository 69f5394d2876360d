package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

// mockStore returns a Store whose queries run against a pgxmock pool. The
// mock rides the context as the ambient transaction so conn() picks it up.
func mockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mock.Close)

	ctx := context.WithValue(context.Background(), txKey{}, mock)
	return New(nil), mock, ctx
}
