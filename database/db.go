package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"github.com/coinvoice/coinvoice/cache"
	"github.com/coinvoice/coinvoice/config"

	"github.com/google/uuid"

	_ "github.com/lib/pq"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		ca, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("invoice cache disabled: %v", errCache)
			ca = nil
		}
		instance = &Datasource{Conn: con, Cache: ca}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	err = createInvoiceTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// GenerateUUIDWithSuffix builds ids like "inv_9c5b...": a module prefix keeps
// identifiers self-describing in logs and webhook payloads.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// createInvoiceTable creates the PostgreSQL table for the Invoice struct.
// The partial index on non-terminal statuses keeps the reconciliation scan
// cheap regardless of how many settled invoices accumulate.
func createInvoiceTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS invoices (
			id SERIAL PRIMARY KEY,
			invoice_id TEXT NOT NULL UNIQUE,
			processor_invoice_id TEXT,
			payer_reference TEXT,
			wallet_address TEXT,
			payment_address TEXT,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			network TEXT,
			status TEXT NOT NULL,
			tx_hash TEXT,
			last_applied_event_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_processor_id
			ON invoices (processor_invoice_id) WHERE processor_invoice_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_invoices_non_terminal
			ON invoices (status) WHERE status NOT IN ('PAID', 'FAILED', 'EXPIRED');
	`)
	if err != nil {
		log.Println(err)
	}
	return err
}
