package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
)

// CouchDB stores each key as the document "list:<key>" holding the value
// under "value". Updates fetch the current revision first, so two writers
// racing on the same key get last-writer-wins or a 409 from CouchDB, which
// surfaces as an error from Set.
type CouchDB struct {
	client *kivik.Client
	db     *kivik.DB
}

type couchDoc struct {
	ID    string          `json:"_id"`
	Rev   string          `json:"_rev,omitempty"`
	Value json.RawMessage `json:"value"`
}

// NewCouchDB connects to url (including credentials) and ensures dbName exists.
func NewCouchDB(ctx context.Context, url, dbName string) (*CouchDB, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &CouchDB{client: client, db: client.DB(dbName)}, nil
}

func couchDocID(key string) string {
	return "list:" + key
}

func (c *CouchDB) fetch(ctx context.Context, key string) (*couchDoc, error) {
	var doc couchDoc
	if err := c.db.Get(ctx, couchDocID(key)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (c *CouchDB) Get(ctx context.Context, key string) ([]byte, error) {
	doc, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (c *CouchDB) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return errors.New("couchdb values must be JSON")
	}

	doc := couchDoc{ID: couchDocID(key), Value: value}
	existing, err := c.fetch(ctx, key)
	switch {
	case err == nil:
		doc.Rev = existing.Rev
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if _, err := c.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

func (c *CouchDB) Delete(ctx context.Context, key string) error {
	existing, err := c.fetch(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := c.db.Delete(ctx, existing.ID, existing.Rev); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (c *CouchDB) Close(context.Context) error {
	return c.client.Close()
}
