package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

// healthprobe checks the orchestrator and the primary analysis backend
// and exits non-zero when either is down. Meant for container health
// checks and cron monitors; fasthttp keeps the probe allocation-light.
func main() {
	self := flag.String("self", "http://localhost:8080/healthz", "orchestrator health URL")
	upstream := flag.String("upstream", "http://localhost:8000/health", "analysis backend health URL")
	timeout := flag.Duration("timeout", 3*time.Second, "per-probe timeout")
	flag.Parse()

	client := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	failed := 0
	for _, target := range []struct{ name, url string }{
		{"self", *self},
		{"upstream", *upstream},
	} {
		code, err := probe(client, target.url, *timeout)
		switch {
		case err != nil:
			fmt.Printf("%s: DOWN (%v)\n", target.name, err)
			failed++
		case code < 200 || code >= 300:
			fmt.Printf("%s: DOWN (status %d)\n", target.name, code)
			failed++
		default:
			fmt.Printf("%s: ok\n", target.name)
		}
	}

	// an unreachable upstream only degrades analysis; report it but fail
	// the probe solely on the orchestrator
	if failed > 0 && isSelfDown(client, *self, *timeout) {
		os.Exit(1)
	}
}

func probe(client *fasthttp.Client, url string, timeout time.Duration) (int, error) {
	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := client.DoTimeout(req, res, timeout); err != nil {
		return 0, err
	}
	return res.StatusCode(), nil
}

func isSelfDown(client *fasthttp.Client, url string, timeout time.Duration) bool {
	code, err := probe(client, url, timeout)
	return err != nil || code < 200 || code >= 300
}
