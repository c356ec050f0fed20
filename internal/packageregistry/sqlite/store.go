// Package sqlite implements packageregistry.Store on database/sql +
// mattn/go-sqlite3, matching the unique (name, version) index §6 requires.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/swarmguard/fluxion/internal/model"
	"github.com/swarmguard/fluxion/internal/packageregistry"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
func parseTime(s string) time.Time  { t, _ := time.Parse(time.RFC3339Nano, s); return t }

func (s *Store) CreatePackage(ctx context.Context, pkg *model.WorkflowPackage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_packages (id, registry_id, tenant, name, version, description, author, metadata, storage_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pkg.ID.String(), pkg.RegistryID, pkg.Tenant, pkg.Name, pkg.Version, pkg.Description, pkg.Author,
		pkg.Metadata, pkg.StorageType, formatTime(pkg.CreatedAt), formatTime(pkg.UpdatedAt))
	return err
}

func (s *Store) GetPackage(ctx context.Context, name, version string) (*model.WorkflowPackage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, registry_id, tenant, name, version, description, author, metadata, storage_type, created_at, updated_at
		FROM workflow_packages WHERE name = ? AND version = ?`, name, version)
	var (
		id, registryID, tenant, nm, ver, desc, author, meta, storageType string
		createdAt, updatedAt                                             string
	)
	if err := row.Scan(&id, &registryID, &tenant, &nm, &ver, &desc, &author, &meta, &storageType, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, packageregistry.NewNotFoundError("no package " + name + "@" + version)
		}
		return nil, err
	}
	parsedID, err := model.ParseID(id)
	if err != nil {
		return nil, err
	}
	return &model.WorkflowPackage{
		ID: parsedID, RegistryID: registryID, Tenant: tenant, Name: nm, Version: ver, Description: desc, Author: author,
		Metadata: meta, StorageType: storageType, CreatedAt: parseTime(createdAt), UpdatedAt: parseTime(updatedAt),
	}, nil
}

func (s *Store) Exists(ctx context.Context, name, version string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM workflow_packages WHERE name = ? AND version = ?`, name, version).Scan(&n)
	return n > 0, err
}

func (s *Store) DeletePackage(ctx context.Context, name, version string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_packages WHERE name = ? AND version = ?`, name, version)
	return err
}

func (s *Store) ListPackages(ctx context.Context) ([]*model.WorkflowPackage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, registry_id, tenant, name, version, description, author, metadata, storage_type, created_at, updated_at
		FROM workflow_packages ORDER BY name, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WorkflowPackage
	for rows.Next() {
		var (
			id, registryID, tenant, nm, ver, desc, author, meta, storageType string
			createdAt, updatedAt                                             string
		)
		if err := rows.Scan(&id, &registryID, &tenant, &nm, &ver, &desc, &author, &meta, &storageType, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		parsedID, err := model.ParseID(id)
		if err != nil {
			return nil, err
		}
		out = append(out, &model.WorkflowPackage{
			ID: parsedID, RegistryID: registryID, Tenant: tenant, Name: nm, Version: ver, Description: desc, Author: author,
			Metadata: meta, StorageType: storageType, CreatedAt: parseTime(createdAt), UpdatedAt: parseTime(updatedAt),
		})
	}
	return out, rows.Err()
}

var _ packageregistry.Store = (*Store)(nil)
