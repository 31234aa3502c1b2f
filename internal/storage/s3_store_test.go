//go:build integration

package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"postengine/internal/config"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const garageBucket = "postengine-test"

// garage runs the garage admin cli inside the container and returns its
// combined output.
func garage(ctx context.Context, c testcontainers.Container, args ...string) (string, error) {
	code, reader, err := c.Exec(ctx, append([]string{"/garage"}, args...))
	if err != nil {
		return "", fmt.Errorf("garage %s: %w", strings.Join(args, " "), err)
	}
	output, _ := io.ReadAll(reader)
	if code != 0 {
		return "", fmt.Errorf("garage %s exited %d:\n%s", strings.Join(args, " "), code, output)
	}
	return string(output), nil
}

// field returns the value after "label:" on the first line carrying it.
func field(output, label string) string {
	for line := range strings.Lines(output) {
		if _, value, ok := strings.Cut(line, label+":"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func nodeID(status string) string {
	for line := range strings.Lines(status) {
		fields := strings.Fields(line)
		if len(fields) == 0 || len(fields[0]) != 16 {
			continue
		}
		if _, err := hex.DecodeString(fields[0]); err == nil {
			return fields[0]
		}
	}
	return ""
}

func startGarage(ctx context.Context) (testcontainers.Container, config.S3Config, error) {
	var cfg config.S3Config

	req := testcontainers.ContainerRequest{
		Image:        "dxflrs/garage:v1.0.0",
		ExposedPorts: []string{"3900/tcp"},
		Files: []testcontainers.ContainerFile{{
			HostFilePath:      "../../infra/garage/garage.toml",
			ContainerFilePath: "/etc/garage.toml",
			FileMode:          0o644,
		}},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Tmpfs = map[string]string{"/tmp/garage": ""}
		},
		Env: map[string]string{
			"GARAGE_RPC_SECRET": strings.Repeat("a", 64),
		},
		WaitingFor: wait.ForListeningPort("3900/tcp"),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to start container: %w", err)
	}

	// garage needs a little time to fully initialise
	time.Sleep(2 * time.Second)

	status, err := garage(ctx, c, "status")
	if err != nil {
		return c, cfg, err
	}
	node := nodeID(status)
	if node == "" {
		return c, cfg, fmt.Errorf("could not parse node ID from status output:\n%s", status)
	}

	steps := [][]string{
		{"layout", "assign", "-z", "dc1", "-c", "1G", node},
		{"layout", "apply", "--version", "1"},
		{"bucket", "create", garageBucket},
	}
	for _, step := range steps {
		if _, err := garage(ctx, c, step...); err != nil {
			return c, cfg, err
		}
	}

	keyInfo, err := garage(ctx, c, "key", "create", "postengine-key")
	if err != nil {
		return c, cfg, err
	}
	if _, err := garage(ctx, c, "bucket", "allow", "--read", "--write", "--owner", "--key", "postengine-key", garageBucket); err != nil {
		return c, cfg, err
	}

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "3900")

	cfg = config.S3Config{
		Endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
		Region:    "garage",
		AccessKey: field(keyInfo, "Key ID"),
		SecretKey: field(keyInfo, "Secret key"),
		Bucket:    garageBucket,
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return c, cfg, fmt.Errorf("failed to parse key output:\n%s", keyInfo)
	}
	return c, cfg, nil
}

var testStore *S3Store

func TestMain(m *testing.M) {
	ctx := context.Background()

	c, cfg, err := startGarage(ctx)
	if err == nil {
		testStore, err = NewS3Store(cfg)
	}

	code := 1
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	} else {
		code = m.Run()
	}

	if c != nil {
		c.Terminate(ctx)
	}
	os.Exit(code)
}

func TestS3StoreLifecycle(t *testing.T) {
	ctx := context.Background()
	key := "images/2026/10/hello.jpg"

	if testStore.Exists(ctx, key) {
		t.Fatalf("expected %q to be absent before save", key)
	}
	if _, err := testStore.Open(ctx, key); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("open of missing key: got %v, want fs.ErrNotExist", err)
	}

	for _, body := range []string{"first", "second"} {
		if err := testStore.Save(ctx, key, strings.NewReader(body)); err != nil {
			t.Fatalf("save %q: %v", body, err)
		}

		rc, err := testStore.Open(ctx, key)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != body {
			t.Errorf("got %q, want %q", got, body)
		}
	}

	if err := testStore.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if testStore.Exists(ctx, key) {
		t.Errorf("expected %q to be gone after delete", key)
	}
}
