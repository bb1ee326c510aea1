package catalog

import (
	"fmt"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsPolicy answers whether the crawler may visit a url. A nil policy
// allows everything.
type RobotsPolicy struct {
	data  *robotstxt.RobotsData
	agent string
}

// ParseRobots builds a policy for `agent` out of a robots.txt response.
// Following the robots.txt conventions, 4xx statuses allow everything and
// 5xx statuses disallow everything.
func ParseRobots(status int, body []byte, agent string) (*RobotsPolicy, error) {
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return &RobotsPolicy{data: data, agent: agent}, nil
}

func AllowAll(agent string) *RobotsPolicy {
	policy, err := ParseRobots(404, nil, agent)
	if err != nil {
		// a 404 never fails to parse
		panic(err)
	}
	return policy
}

func (p *RobotsPolicy) Allowed(rawUrl string) bool {
	if p == nil || p.data == nil {
		return true
	}
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return false
	}
	return p.data.TestAgent(parsed.RequestURI(), p.agent)
}

// CrawlDelay is the Crawl-delay the site asks for, 0 if none.
func (p *RobotsPolicy) CrawlDelay() time.Duration {
	if p == nil || p.data == nil {
		return 0
	}
	group := p.data.FindGroup(p.agent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}
