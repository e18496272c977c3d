// Package probe checks whether a bridge is listening and answering, and
// renders the result for operators.
package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	logs "github.com/danmuck/qbridge/internal/logging"
	"github.com/danmuck/qbridge/internal/netinfo"
)

const (
	DefaultTimeout = 3 * time.Second
	maxBodyBytes   = 64 << 10
)

type Target struct {
	Host    string
	Port    int
	Timeout time.Duration
	// LocalIP overrides interface discovery for the advertised URLs.
	LocalIP string
}

type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type Report struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	PortOpen      bool     `json:"port_open"`
	HTTPReachable bool     `json:"http_reachable"`
	StatusBody    string   `json:"status_body,omitempty"`
	LocalIP       string   `json:"local_ip"`
	URLs          []string `json:"urls"`
	Checks        []Check  `json:"checks"`
}

func (r Report) OK() bool {
	return r.PortOpen && r.HTTPReachable
}

// CheckPort reports whether something accepts TCP connections at host:port.
func CheckPort(ctx context.Context, host string, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// CheckHTTP fetches url and succeeds when it answers 200 with "online" in the body.
func CheckHTTP(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	text := string(body)
	if resp.StatusCode != http.StatusOK {
		return text, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !strings.Contains(text, "online") {
		return text, fmt.Errorf("status body does not report online")
	}
	return text, nil
}

// Run executes the port and HTTP checks against target.
func Run(ctx context.Context, target Target) Report {
	host := strings.TrimSpace(target.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	localIP := target.LocalIP
	if localIP == "" {
		localIP = netinfo.LocalIP()
	}
	report := Report{
		Host:    host,
		Port:    target.Port,
		LocalIP: localIP,
		URLs:    netinfo.URLs(localIP, target.Port),
	}

	if err := CheckPort(ctx, host, target.Port, target.Timeout); err != nil {
		logs.Debugf("probe.Run port closed host=%s port=%d err=%v", host, target.Port, err)
		report.Checks = append(report.Checks, Check{Name: "port", Detail: err.Error()})
	} else {
		report.PortOpen = true
		report.Checks = append(report.Checks, Check{Name: "port", OK: true})
	}

	url := "http://" + net.JoinHostPort(host, strconv.Itoa(target.Port)) + "/status"
	if !report.PortOpen {
		report.Checks = append(report.Checks, Check{Name: "http", Detail: "skipped: port closed"})
		return report
	}
	body, err := CheckHTTP(ctx, url, target.Timeout)
	report.StatusBody = strings.TrimSpace(body)
	if err != nil {
		logs.Debugf("probe.Run http failed url=%s err=%v", url, err)
		report.Checks = append(report.Checks, Check{Name: "http", Detail: err.Error()})
		return report
	}
	report.HTTPReachable = true
	report.Checks = append(report.Checks, Check{Name: "http", OK: true})
	logs.Infof("probe.Run ok host=%s port=%d", host, target.Port)
	return report
}
