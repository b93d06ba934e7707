// Package docker implements the docker:// resolver scheme: it
// inspects a named container (or lists every container running a known
// database image) and derives a ConnectionInfo the resolver recurses on.
// Grounded on stacklok-toolhive's pkg/container/docker Client, whose tests
// (client_list_test.go, mocks_test.go) fix the dockerAPI interface shape,
// narrowed here to the two calls container discovery needs: ContainerList
// and ContainerInspect against github.com/docker/docker's
// api/types/container package.
package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"

	"github.com/dbcrust/dbcrust/internal/backenderr"
)

// dockerAPI narrows the full Docker SDK client down to the two calls
// container discovery needs, behind a small interface so a fake can stand
// in for tests.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error)
}

// knownImage maps a Docker image name fragment to the backend kind and
// default port DBCrust should assume absent more specific information.
type knownImage struct {
	fragment string
	kind     string
	port     string
	userEnv  []string
	passEnv  []string
	dbEnv    []string
}

var knownImages = []knownImage{
	{"postgres", "postgres", "5432", []string{"POSTGRES_USER"}, []string{"POSTGRES_PASSWORD"}, []string{"POSTGRES_DB"}},
	{"mysql", "mysql", "3306", []string{"MYSQL_USER"}, []string{"MYSQL_PASSWORD", "MYSQL_ROOT_PASSWORD"}, []string{"MYSQL_DATABASE"}},
	{"mariadb", "mysql", "3306", []string{"MARIADB_USER"}, []string{"MARIADB_PASSWORD", "MARIADB_ROOT_PASSWORD"}, []string{"MARIADB_DATABASE"}},
	{"clickhouse", "clickhouse", "8123", []string{"CLICKHOUSE_USER"}, []string{"CLICKHOUSE_PASSWORD"}, []string{"CLICKHOUSE_DB"}},
	{"mongo", "mongo", "27017", []string{"MONGO_INITDB_ROOT_USERNAME"}, []string{"MONGO_INITDB_ROOT_PASSWORD"}, []string{"MONGO_INITDB_DATABASE"}},
	{"elasticsearch", "elasticsearch", "9200", nil, []string{"ELASTIC_PASSWORD"}, nil},
}

func matchImage(image string) (knownImage, bool) {
	lower := strings.ToLower(image)
	for _, ki := range knownImages {
		if strings.Contains(lower, ki.fragment) {
			return ki, true
		}
	}
	return knownImage{}, false
}

// Candidate is a discovered database container, ready to be turned into a
// connection URL the resolver recurses on.
type Candidate struct {
	ContainerID   string
	Name          string
	Image         string
	Kind          string
	Host          string
	Port          string
	User          string
	Password      string
	Database      string
	PasswordFound bool
}

// URL renders the candidate as a connection URL, which the resolver feeds
// back into Resolve for the recursive step spec's table describes.
func (c Candidate) URL() string {
	userinfo := c.User
	if c.PasswordFound {
		userinfo = fmt.Sprintf("%s:%s", c.User, c.Password)
	}
	auth := ""
	if userinfo != "" {
		auth = userinfo + "@"
	}
	path := ""
	if c.Database != "" {
		path = "/" + c.Database
	}
	scheme := c.Kind
	switch scheme {
	case "postgres":
		scheme = "postgresql"
	case "mongo":
		scheme = "mongodb"
	}
	return fmt.Sprintf("%s://%s%s:%s%s", scheme, auth, c.Host, c.Port, path)
}

// Client discovers database containers on the local Docker daemon.
type Client struct {
	api dockerAPI
}

// New connects to the local Docker daemon using the environment-provided
// configuration (DOCKER_HOST and friends), the same convention the
// teacher-pack's discovery tooling and the Docker CLI itself use.
func New() (*Client, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, backenderr.Connectionf(err, "connect to docker daemon")
	}
	return &Client{api: cli}, nil
}

// Inspect resolves docker://container: look up one container by name or ID
// and derive its Candidate.
func (c *Client) Inspect(ctx context.Context, nameOrID string) (Candidate, error) {
	info, err := c.api.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return Candidate{}, backenderr.Resolutionf(err, "inspect container %q", nameOrID)
	}
	return candidateFromInspect(info), nil
}

// List resolves docker://: enumerate every running container whose image
// matches a known database image family, for the interactive picker.
func (c *Client) List(ctx context.Context) ([]Candidate, error) {
	summaries, err := c.api.ContainerList(ctx, container.ListOptions{Filters: filters.NewArgs()})
	if err != nil {
		return nil, backenderr.Resolutionf(err, "list containers")
	}
	var candidates []Candidate
	for _, s := range summaries {
		if _, ok := matchImage(s.Image); !ok {
			continue
		}
		info, err := c.api.ContainerInspect(ctx, s.ID)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidateFromInspect(info))
	}
	return candidates, nil
}

func candidateFromInspect(info container.InspectResponse) Candidate {
	image := ""
	if info.Config != nil {
		image = info.Config.Image
	}
	ki, known := matchImage(image)
	name := strings.TrimPrefix(info.Name, "/")

	cand := Candidate{
		ContainerID: info.ID,
		Name:        name,
		Image:       image,
		Host:        "127.0.0.1",
	}
	if known {
		cand.Kind = ki.kind
		cand.Port = ki.port
	}

	if info.NetworkSettings != nil {
		for containerPort, bindings := range info.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			portNum := containerPort.Port()
			if known && portNum != ki.port {
				continue
			}
			cand.Port = bindings[0].HostPort
			break
		}
	}

	env := map[string]string{}
	if info.Config != nil {
		for _, kv := range info.Config.Env {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				env[kv[:i]] = kv[i+1:]
			}
		}
	}
	if known {
		for _, k := range ki.userEnv {
			if v, ok := env[k]; ok {
				cand.User = v
				break
			}
		}
		for _, k := range ki.passEnv {
			if v, ok := env[k]; ok {
				cand.Password = v
				cand.PasswordFound = true
				break
			}
		}
		for _, k := range ki.dbEnv {
			if v, ok := env[k]; ok {
				cand.Database = v
				break
			}
		}
	}
	if cand.User == "" {
		cand.User = "root"
	}
	return cand
}
