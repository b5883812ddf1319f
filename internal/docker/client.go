package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/moby/go-archive"
)

const (
	labelPrefix  = "snippetd."
	labelManaged = labelPrefix + "managed"
	labelName    = labelPrefix + "name"
)

// restartTimeout is how long a restart waits for the old process before killing it.
const restartTimeout = 1

type Client struct {
	docker *client.Client
}

// New connects to the daemon. An empty host falls back to DOCKER_HOST / the default socket.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Client{docker: cli}, nil
}

func (c *Client) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// BuildImage packs contextDir and builds it as tag. The returned stream
// carries the build's progress text and fails with the daemon's error
// message if the build does.
func (c *Client) BuildImage(ctx context.Context, contextDir, tag string) (io.ReadCloser, error) {
	tarball, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("pack build context: %w", err)
	}
	defer tarball.Close()

	resp, err := c.docker.ImageBuild(ctx, tarball, build.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{labelManaged: "true"},
	})
	if err != nil {
		return nil, fmt.Errorf("image build: %w", err)
	}
	return decodeBuildStream(resp.Body), nil
}

// CreateInstance creates (but does not start) a container named name from image.
func (c *Client) CreateInstance(ctx context.Context, image, name string) (string, error) {
	containerCfg := &container.Config{
		Image: image,
		Labels: map[string]string{
			labelManaged: "true",
			labelName:    name,
		},
		Tty: false,
	}
	hostCfg := &container.HostConfig{
		AutoRemove: false,
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) Start(ctx context.Context, containerID string) error {
	if err := c.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start: %w", err)
	}
	return nil
}

// AttachLogs follows stdout and stderr of a container, demultiplexed into a
// single stream. A non-zero since skips log lines written before it.
func (c *Client) AttachLogs(ctx context.Context, containerID string, since time.Time) (io.ReadCloser, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	}
	if !since.IsZero() {
		opts.Since = formatSince(since)
	}
	rc, err := c.docker.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	return demux(rc), nil
}

// Stop kills the container without a grace period.
func (c *Client) Stop(ctx context.Context, containerID string) error {
	if err := c.docker.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		return fmt.Errorf("container kill: %w", err)
	}
	return nil
}

// DeleteInstance force-removes a container and its anonymous volumes.
func (c *Client) DeleteInstance(ctx context.Context, containerID string) error {
	err := c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

func (c *Client) RemoveImage(ctx context.Context, tag string) error {
	_, err := c.docker.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil {
		return fmt.Errorf("image remove: %w", err)
	}
	return nil
}

// PushFile copies localPath into remoteDir inside the container, keeping its base name.
func (c *Client) PushFile(ctx context.Context, containerID, localPath, remoteDir string) error {
	rd, err := archive.TarWithOptions(filepath.Dir(localPath), &archive.TarOptions{
		IncludeFiles: []string{filepath.Base(localPath)},
	})
	if err != nil {
		return fmt.Errorf("pack %s: %w", filepath.Base(localPath), err)
	}
	defer rd.Close()

	if err := c.docker.CopyToContainer(ctx, containerID, remoteDir, rd, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

func (c *Client) Restart(ctx context.Context, containerID string) error {
	timeout := restartTimeout
	if err := c.docker.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("container restart: %w", err)
	}
	return nil
}

// ContainerInfo holds basic info about a container created by this service.
type ContainerInfo struct {
	ContainerID string
	Name        string
	State       string
}

// ListManagedContainers returns all containers carrying the managed label.
func (c *Client) ListManagedContainers(ctx context.Context) ([]ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("label", labelManaged+"=true")

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, ctr := range containers {
		result = append(result, ContainerInfo{
			ContainerID: ctr.ID,
			Name:        ctr.Labels[labelName],
			State:       string(ctr.State),
		})
	}
	return result, nil
}

// ListManagedImages returns the IDs of images built by this service.
func (c *Client) ListManagedImages(ctx context.Context) ([]string, error) {
	f := filters.NewArgs()
	f.Add("label", labelManaged+"=true")

	images, err := c.docker.ImageList(ctx, image.ListOptions{Filters: f})
	if err != nil {
		return nil, fmt.Errorf("image list: %w", err)
	}
	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	return ids, nil
}

// IsNotFound reports whether err means the container or image is already gone.
func IsNotFound(err error) bool {
	return client.IsErrNotFound(err)
}

// streamCloser is a pipe reader that also closes the upstream body.
type streamCloser struct {
	*io.PipeReader
	upstream io.Closer
}

func (s *streamCloser) Close() error {
	s.PipeReader.Close()
	return s.upstream.Close()
}

// decodeBuildStream turns the daemon's JSON progress messages into plain text.
// An errorDetail message ends the stream with that error.
func decodeBuildStream(body io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer body.Close()
		dec := json.NewDecoder(body)
		for {
			var msg jsonmessage.JSONMessage
			if err := dec.Decode(&msg); err != nil {
				if errors.Is(err, io.EOF) {
					pw.Close()
					return
				}
				pw.CloseWithError(fmt.Errorf("decode build output: %w", err))
				return
			}
			if msg.Error != nil {
				pw.CloseWithError(fmt.Errorf("image build: %w", msg.Error))
				return
			}
			text := msg.Stream
			if text == "" && msg.Status != "" {
				text = msg.Status + "\n"
			}
			if text == "" {
				continue
			}
			if _, err := io.WriteString(pw, text); err != nil {
				return
			}
		}
	}()
	return &streamCloser{PipeReader: pr, upstream: body}
}

// demux strips Docker's stdout/stderr multiplexing headers (8-byte frames).
func demux(rc io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer rc.Close()
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()
	return &streamCloser{PipeReader: pr, upstream: rc}
}

func formatSince(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}
