// Package testdeps starts the containers backing store integration tests.
package testdeps

import (
	"context"
	"testing"

	"github.com/pitabwire/util"
	"github.com/testcontainers/testcontainers-go"
	tcNats "github.com/testcontainers/testcontainers-go/modules/nats"
	tcValkey "github.com/testcontainers/testcontainers-go/modules/valkey"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/new1943/msgsource/data"
)

const (
	NatsImage   = "nats:latest"
	ValkeyImage = "docker.io/valkey/valkey:latest"

	NatsUser = "msgsource"
	NatsPass = "ms9s0urce"
)

func terminate(t testing.TB, c testcontainers.Container) {
	t.Cleanup(func() {
		ctx := context.Background()
		if err := c.Terminate(ctx); err != nil {
			util.Log(ctx).WithError(err).Error("failed to terminate container")
		}
	})
}

// Nats starts a JetStream enabled server and returns its DSN. Tests are
// skipped under -short.
func Nats(ctx context.Context, t testing.TB) data.DSN {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping nats integration test in short mode")
	}

	container, err := tcNats.Run(ctx, NatsImage,
		testcontainers.WithCmdArgs("--js"),
		tcNats.WithUsername(NatsUser),
		tcNats.WithPassword(NatsPass),
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}
	terminate(t, container)

	conn, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get nats connection string: %v", err)
	}

	u, err := data.DSN(conn).ToURI()
	if err != nil {
		t.Fatalf("invalid nats connection string %q: %v", conn, err)
	}
	u.User = nil
	dsn := data.DSN(u.String())
	dsn, err = dsn.WithUser(NatsUser, NatsPass)
	if err != nil {
		t.Fatalf("could not add credentials: %v", err)
	}
	return dsn
}

// Valkey starts a valkey server with keyspace notifications for string
// commands enabled and returns its DSN with the given scheme.
func Valkey(ctx context.Context, t testing.TB, scheme string) data.DSN {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping valkey integration test in short mode")
	}

	container, err := tcValkey.Run(ctx, ValkeyImage)
	if err != nil {
		t.Fatalf("failed to start valkey container: %v", err)
	}
	terminate(t, container)

	conn, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get valkey connection string: %v", err)
	}

	dsn, err := data.DSN(conn).WithScheme(scheme)
	if err != nil {
		t.Fatalf("invalid valkey connection string %q: %v", conn, err)
	}
	return dsn
}
