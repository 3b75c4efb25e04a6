package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestInventoryMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_product_variants_inventory"), []string{
		"CREATE TABLE IF NOT EXISTS inventory_levels",
		"PRIMARY KEY (variant_id, location_id)",
		"FOREIGN KEY (variant_id) REFERENCES product_variants(id) ON DELETE CASCADE",
		"CHECK (available_qty >= 0)",
		"CHECK (reserved_qty >= 0)",
		"DROP TABLE IF EXISTS inventory_levels",
	})
}

func TestOrdersMigrationBalancesTotals(t *testing.T) {
	assertContains(t, readMigration(t, "create_orders"), []string{
		"CONSTRAINT ux_orders_order_number UNIQUE (order_number)",
		"CHECK (total_minor = subtotal_minor + tax_minor + shipping_minor - discount_minor)",
		"'payment_failed'",
		"reserved_qty integer NOT NULL DEFAULT 0 CHECK (reserved_qty >= 0)",
	})
}

func TestPaymentsMigrationAllowsOneSuccessfulPayment(t *testing.T) {
	assertContains(t, readMigration(t, "create_payments"), []string{
		"CONSTRAINT ux_payments_idempotency_key UNIQUE (idempotency_key)",
		"CONSTRAINT ux_payments_gateway_payment_id UNIQUE (gateway_payment_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_order_success",
		"WHERE status IN ('captured', 'authorized')",
		"CHECK (risk_score BETWEEN 0 AND 100)",
	})
}

func TestSecurityEventsMigrationIsAppendOnly(t *testing.T) {
	assertContains(t, readMigration(t, "create_security_events"), []string{
		"BEFORE UPDATE OR DELETE ON security_events",
		"DROP TRIGGER IF EXISTS trg_security_events_append_only ON security_events",
	})
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}
