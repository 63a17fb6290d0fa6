package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when the
// process runs inside a container, so source systems on the host stay reachable.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if inDocker && isLoopback(host) {
		return "host.docker.internal"
	}
	return host
}

// ResolveURLForDocker applies ResolveHostForDocker to the host part of a URL
// (Mongo URIs, S3 endpoints). Unparseable input is returned unchanged.
func ResolveURLForDocker(raw string) string {
	return resolveURL(raw, IsRunningInDocker())
}

func resolveURL(raw string, inDocker bool) string {
	if raw == "" || !inDocker {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, port = u.Host, ""
	}
	resolved := resolveHost(host, inDocker)
	if resolved == host {
		return raw
	}
	if port != "" {
		u.Host = net.JoinHostPort(resolved, port)
	} else {
		u.Host = resolved
	}
	return u.String()
}
