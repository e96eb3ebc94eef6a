// Command seedfetch pulls a seed list from the web and feeds it to a running
// arachne daemon. It understands sitemap XML and plain text lists, so
// operators can point it at a site's sitemap.xml or a curated seeds.txt.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

type sitemap struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type output struct {
	Count int      `json:"count"`
	URLs  []string `json:"urls"`
}

func main() {
	sourceURL := flag.String("url", "", "seed list URL (sitemap XML or plain text, one URL per line)")
	limit := flag.Int("limit", 0, "keep at most this many URLs (0 = all)")
	postTo := flag.String("post", "", "post seeds to a running daemon at this base URL (e.g. http://localhost:8080)")
	password := flag.String("password", "", "web API password for -post (or set ARACHNE_WEB_PASSWORD)")
	flag.Parse()

	if *sourceURL == "" {
		fmt.Fprintln(os.Stderr, "error: -url is required")
		flag.Usage()
		os.Exit(1)
	}

	urls, err := fetchSeeds(*sourceURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: fetching seeds: %v\n", err)
		os.Exit(1)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "error: no URLs found in seed list")
		os.Exit(1)
	}

	if *limit > 0 && len(urls) > *limit {
		urls = urls[:*limit]
	}

	if *postTo != "" {
		pass := *password
		if pass == "" {
			pass = os.Getenv("ARACHNE_WEB_PASSWORD")
		}
		added, err := postSeeds(*postTo, pass, urls)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: posting seeds: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Posted %d URLs, %d added to the frontier\n", len(urls), added)
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{Count: len(urls), URLs: urls}); err != nil {
		fmt.Fprintf(os.Stderr, "error: encoding output: %v\n", err)
		os.Exit(1)
	}
}

func fetchSeeds(url string) ([]string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching seed list", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseSeeds(data)
}

// parseSeeds detects the list format: sitemap XML when the body carries a
// <urlset> element, plain text otherwise.
func parseSeeds(data []byte) ([]string, error) {
	if looksLikeSitemap(data) {
		return parseSitemap(data)
	}
	return parseLines(data), nil
}

func looksLikeSitemap(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.Contains(head, []byte("<urlset"))
}

func parseSitemap(data []byte) ([]string, error) {
	var sm sitemap
	if err := xml.Unmarshal(data, &sm); err != nil {
		return nil, fmt.Errorf("parsing sitemap: %w", err)
	}

	var urls []string
	for _, u := range sm.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}

// parseLines reads a plain text list: one URL per line, blank lines and
// #-comments skipped.
func parseLines(data []byte) []string {
	var urls []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls
}

func postSeeds(baseURL, password string, urls []string) (int, error) {
	body, err := json.Marshal(map[string]any{"urls": urls})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/api/frontier/seeds"
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if password != "" {
		req.SetBasicAuth("seedfetch", password)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Added int `json:"added"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}
	return result.Added, nil
}
