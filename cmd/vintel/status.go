package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/Subtalime/vintel-sub001/internal/api"
	"github.com/Subtalime/vintel-sub001/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// runStatus prints a running instance's locations, each name painted in
// its current alarm colors.
func runStatus(args []string) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	base := fs.String("api", "http://127.0.0.1:8081", "base URL of a running vintel API")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client := &http.Client{Timeout: *timeout}
	root := strings.TrimRight(*base, "/")

	var st api.StatusResponse
	if err := fetchJSON(client, root+"/status", &st); err != nil {
		return err
	}
	var locs struct {
		Locations []model.LocationView `json:"locations"`
	}
	if err := fetchJSON(client, root+"/locations", &locs); err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("vintel %s", st.Version)))
	fmt.Println(dimStyle.Render(fmt.Sprintf("cache %s, %d tracked, %d known reporters, %d bridges, %d names",
		st.Cache, st.Tracked, st.Known, st.Bridges, st.Dictionary)))
	fmt.Println()
	fmt.Print(renderLocations(locs.Locations, time.Now()))
	if len(st.Rooms) > 0 {
		fmt.Println()
		fmt.Println(headerStyle.Render("rooms"))
		for _, r := range st.Rooms {
			fmt.Printf("  %-28s %6d events %4d malformed  %s\n", r.Room, r.Events, r.Malformed, age(time.Now(), r.LastSeen))
		}
	}
	return nil
}

func renderLocations(views []model.LocationView, now time.Time) string {
	if len(views) == 0 {
		return dimStyle.Render("no tracked locations") + "\n"
	}
	width := 8
	for _, v := range views {
		if n := lipgloss.Width(v.Name); n > width {
			width = n
		}
	}
	var sb strings.Builder
	for _, v := range views {
		name := lipgloss.NewStyle().
			Foreground(lipgloss.Color(v.Text)).
			Background(lipgloss.Color(v.Background)).
			Width(width + 2).
			Padding(0, 1).
			Render(v.Name)
		sb.WriteString(fmt.Sprintf("%s  %-12s %s\n", name, strings.ToUpper(string(v.Status)), dimStyle.Render(age(now, v.LastChangeTime))))
	}
	return sb.String()
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Truncate(time.Second).String() + " ago"
}

func fetchJSON(client *http.Client, url string, into any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	return nil
}

