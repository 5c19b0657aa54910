package database

import (
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"time"
)

// GenerateMockData seeds a week of plausible traffic for development
func GenerateMockData(db *sql.DB) error {
	log.Println("Generating mock data...")

	domains := []string{"example.com", "blog.example.com", "shop.example.com"}
	paths := []string{"/", "/about", "/pricing", "/blog", "/blog/hello-world", "/blog/release-notes", "/contact"}
	referrers := []string{"", "", "", "google.com", "news.ycombinator.com", "twitter.com", "github.com"}
	browsers := []string{"Chrome", "Chrome", "Firefox", "Safari", "Edge"}
	systems := []string{"Windows", "macOS", "iOS", "Android", "Linux"}
	devices := []string{"desktop", "desktop", "mobile", "tablet"}
	customEvents := []string{"signup", "download", "outbound-click"}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (domain, source_type, event_type, path, referrer, visitor_id, browser, os, device, created_at)
		VALUES (?, 'script', ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	total := 0
	for visitor := 0; visitor < 300; visitor++ {
		visitorID := fmt.Sprintf("mock%012x", rand.Int63())
		domain := domains[rand.Intn(len(domains))]
		referrer := referrers[rand.Intn(len(referrers))]
		browser := browsers[rand.Intn(len(browsers))]
		os := systems[rand.Intn(len(systems))]
		device := devices[rand.Intn(len(devices))]
		start := now.Add(-time.Duration(rand.Intn(7*24*60)) * time.Minute)

		// Each visit is a short session of one to five pages
		pages := 1 + rand.Intn(5)
		for i := 0; i < pages; i++ {
			at := start.Add(time.Duration(i) * time.Minute)
			ref := ""
			if i == 0 {
				ref = referrer
			}
			if _, err := stmt.Exec(domain, "pageview", paths[rand.Intn(len(paths))], ref,
				visitorID, browser, os, device, at.Unix()); err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
			total++
		}

		if rand.Intn(5) == 0 {
			if _, err := stmt.Exec(domain, customEvents[rand.Intn(len(customEvents))], "/", "",
				visitorID, browser, os, device, start.Unix()); err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
			total++
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("Mock data generated successfully: %d events", total)
	return nil
}
