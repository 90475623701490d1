package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	ppostgres "github.com/ujala-development/serials/internal/platform/postgres"
	"github.com/ujala-development/serials/internal/repositories"
)

func TestTranslateMapsServerErrors(t *testing.T) {
	unique := ppostgres.WrapError("transaction", &pgconn.PgError{Code: ppostgres.CodeUniqueViolation, ConstraintName: "order_items_serial_number_key"})
	err := translate("orders.create", unique, "order serial allocation", "1125F001WP100010001-10001")
	var recErr *repositories.RecordError
	if !errors.As(err, &recErr) || recErr.Code != repositories.RecordErrorDuplicate {
		t.Fatalf("expected duplicate record error, got %v", err)
	}
	if recErr.Op != "orders.create" || recErr.Key != "1125F001WP100010001-10001" {
		t.Fatalf("unexpected duplicate details %+v", recErr)
	}

	overflow := translate("factory_counters.allocate", &pgconn.PgError{Code: ppostgres.CodeNumericOutOfRange}, "", "")
	if !errors.As(overflow, new(*repositories.CounterError)) {
		t.Fatalf("expected counter overflow, got %v", overflow)
	}

	notFound := repositories.NotFound("order", "ORD00001")
	if got := translate("orders.mutate", notFound, "", ""); !errors.Is(got, notFound) {
		t.Fatalf("expected record errors to pass through, got %v", got)
	}

	unavailable := translate("orders.list", &pgconn.PgError{Code: "08006"}, "", "")
	var repoErr repositories.RepositoryError
	if !errors.As(unavailable, &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("expected unavailable classification, got %v", unavailable)
	}

	if got := translate("orders.list", context.DeadlineExceeded, "", ""); !errors.Is(got, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to pass through, got %v", got)
	}
}

func TestSchemaDefersSerialUniqueness(t *testing.T) {
	for _, constraint := range []string{"orders_serial_number_key", "order_items_serial_number_key"} {
		idx := strings.Index(schemaSQL, constraint)
		if idx < 0 {
			t.Fatalf("schema lacks %s", constraint)
		}
		line := schemaSQL[idx:]
		if end := strings.IndexByte(line, '\n'); end >= 0 {
			line = line[:end]
		}
		if !strings.Contains(line, "DEFERRABLE INITIALLY DEFERRED") {
			t.Fatalf("expected %s to be deferred, got %q", constraint, line)
		}
	}
}

func TestNewRegistryRequiresPool(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatalf("expected error without pool")
	}
}
