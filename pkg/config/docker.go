package config

import (
	"net"
	"os"
	"sync"
)

// dockerHostAlias reaches services published on the host from inside a container.
const dockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether the process runs inside a Docker container.
// Detection is based on /.dockerenv. The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to the Docker host alias when
// running in a container. Any other host is returned unchanged.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

// ResolveAddrForDocker is ResolveHostForDocker for a host:port address.
// Addresses without a port are treated as a bare host.
func ResolveAddrForDocker(addr string) string {
	return resolveAddr(addr, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if !inDocker {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostAlias
	}
	return host
}

func resolveAddr(addr string, inDocker bool) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return resolveHost(addr, inDocker)
	}
	return net.JoinHostPort(resolveHost(host, inDocker), port)
}
