// Package membership keeps the session membership index: for every session,
// the flat set of user ids currently allowed to receive its notifications.
// The index is maintained from session events and read on every file event,
// so reads go through a cache layered over the table store.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

// Store is the membership index contract. Get returns nil for sessions the
// index has never seen; that is an answer, not an error.
type Store interface {
	Get(ctx context.Context, session string) ([]string, error)
	Put(ctx context.Context, session string, users []string) error
	Delete(ctx context.Context, session string) error
}

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

type membershipEntity struct {
	aztables.Entity
	Users string `json:"Users"`
}

// TableStore implements Store on a table, one row per session with the
// session id as both partition and row key.
type TableStore struct {
	table tableClient
}

// NewTableStore connects to the membership table.
func NewTableStore(connStr, table string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, fmt.Errorf("connect membership table: %w", err)
	}
	return &TableStore{table: svc.NewClient(table)}, nil
}

func (s *TableStore) Get(ctx context.Context, session string) ([]string, error) {
	ent, err := s.table.GetEntity(ctx, session, session, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	var row membershipEntity
	if err := sonic.Unmarshal(ent.Value, &row); err != nil {
		return nil, err
	}
	var users []string
	if row.Users != "" {
		if err := sonic.UnmarshalString(row.Users, &users); err != nil {
			return nil, err
		}
	}
	return users, nil
}

func (s *TableStore) Put(ctx context.Context, session string, users []string) error {
	encoded, err := sonic.MarshalString(users)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(membershipEntity{
		Entity: aztables.Entity{PartitionKey: session, RowKey: session},
		Users:  encoded,
	})
	if err != nil {
		return err
	}
	_, err = s.table.UpsertEntity(ctx, payload, nil)
	return err
}

func (s *TableStore) Delete(ctx context.Context, session string) error {
	_, err := s.table.DeleteEntity(ctx, session, session, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil
		}
	}
	return err
}
