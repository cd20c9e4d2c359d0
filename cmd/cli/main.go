package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yourusername/remotedl-go/internal/app"
	"github.com/yourusername/remotedl-go/internal/domain"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "remotedl",
		Short: "remotedl CLI - control downloads run by the download daemon",
		Long:  `A command-line interface for requesting, inspecting and controlling remote downloads.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(addCmd, listCmd, getCmd, pauseCmd, stopCmd, startCmd, migrateCmd, removeCmd, releaseCmd, setCmd, logsCmd, configCmd)
	configCmd.AddCommand(configInitCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// call sends a JSON request and decodes a JSON response into out. It exits
// on transport errors and non-2xx responses.
func call(method, path string, payload, out interface{}) {
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			fail(fmt.Errorf("%s", apiErr.Error))
		}
		fail(fmt.Errorf("%s", string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fail(fmt.Errorf("invalid server response: %w", err))
		}
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

var addCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Request a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		enclosureType, _ := cmd.Flags().GetString("enclosure-type")
		channel, _ := cmd.Flags().GetString("channel")

		payload := map[string]string{"url": args[0]}
		if enclosureType != "" {
			payload["enclosure_type"] = enclosureType
		}
		if channel != "" {
			payload["channel"] = channel
		}

		var result struct {
			RequestID string           `json:"request_id"`
			Download  app.DownloadInfo `json:"download"`
		}
		call(http.MethodPost, "/api/v1/downloads", payload, &result)

		if result.Download.Consumers > 1 {
			fmt.Printf("Joined existing download\n")
		} else {
			fmt.Printf("Download added successfully!\n")
		}
		fmt.Printf("Key:     %s\n", result.Download.Key)
		fmt.Printf("Request: %s\n", result.RequestID)
		fmt.Printf("ID:      %s\n", result.Download.DLID)
		fmt.Printf("Status:  %s\n", result.Download.Status.State)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all downloads",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		state, _ := cmd.Flags().GetString("state")

		path := "/api/v1/downloads"
		if state != "" {
			path += "?state=" + url.QueryEscape(state)
		}
		var downloads []app.DownloadInfo
		call(http.MethodGet, path, nil, &downloads)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tURL\tSTATE\tPROGRESS\tRATE\tCREATED")
		for _, d := range downloads {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				truncate(d.Key, 8),
				truncate(d.OriginalURL, 40),
				d.Status.State,
				progress(d.Status),
				rate(d.Status),
				humanize.Time(d.CreatedAt))
		}
		w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get download details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		var d app.DownloadInfo
		call(http.MethodGet, "/api/v1/downloads/"+url.PathEscape(args[0]), nil, &d)

		fmt.Printf("Download Details:\n")
		fmt.Printf("  Key:       %s\n", d.Key)
		fmt.Printf("  ID:        %s\n", d.DLID)
		fmt.Printf("  URL:       %s\n", d.URL)
		if d.OriginalURL != d.URL {
			fmt.Printf("  Requested: %s\n", d.OriginalURL)
		}
		fmt.Printf("  Type:      %s (%s)\n", d.Type, d.ContentType)
		fmt.Printf("  State:     %s\n", d.Status.State)
		fmt.Printf("  Progress:  %s\n", progress(d.Status))
		if d.Status.State == domain.StateDownloading {
			fmt.Printf("  Rate:      %s\n", rate(d.Status))
			if d.Status.ETA > 0 {
				fmt.Printf("  ETA:       %s\n", time.Duration(d.Status.ETA)*time.Second)
			}
			if d.Status.CurrentSize == 0 {
				fmt.Printf("  Activity:  %s\n", d.StartupActivity)
			}
		}
		if d.ChannelName != "" {
			fmt.Printf("  Channel:   %s\n", d.ChannelName)
		}
		if name := d.Status.FilenameValue(); name != "" {
			fmt.Printf("  File:      %s\n", name)
		}
		if d.Status.State == domain.StateFailed {
			fmt.Printf("  Failed:    %s\n", d.Status.ShortReasonFailed)
			fmt.Printf("  Reason:    %s\n", d.Status.ReasonFailed)
		}
		fmt.Printf("  Created:   %s (%s)\n", d.CreatedAt.Format(time.RFC3339), humanize.Time(d.CreatedAt))
	},
}

func action(use, short, verb, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ensureServer()
			call(http.MethodPost, "/api/v1/downloads/"+url.PathEscape(args[0])+"/"+verb, nil, nil)
			fmt.Println(done)
		},
	}
}

var (
	pauseCmd = action("pause", "Pause a download", "pause", "Download paused")
	startCmd = action("start", "Resume a paused or stopped download, or retry a failed one", "start", "Download started")
)

var stopCmd = &cobra.Command{
	Use:   "stop [id]",
	Short: "Stop a download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		deleteData, _ := cmd.Flags().GetBool("delete")
		path := "/api/v1/downloads/" + url.PathEscape(args[0]) + "/stop?delete=" + strconv.FormatBool(deleteData)
		call(http.MethodPost, path, nil, nil)
		fmt.Println("Download stopped")
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [id] [directory]",
	Short: "Move a download's files into a directory",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		call(http.MethodPost, "/api/v1/downloads/"+url.PathEscape(args[0])+"/migrate",
			map[string]string{"directory": args[1]}, nil)
		fmt.Println("Download migrated")
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Stop a download and forget it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		call(http.MethodDelete, "/api/v1/downloads/"+url.PathEscape(args[0]), nil, nil)
		fmt.Println("Download removed")
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release [id] [request-id]",
	Short: "Give up a request; the download is removed with its last request",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		call(http.MethodPost, "/api/v1/downloads/"+url.PathEscape(args[0])+"/release",
			map[string]string{"request_id": args[1]}, nil)
		fmt.Println("Request released")
	},
}

var setCmd = &cobra.Command{
	Use:   "set [id]",
	Short: "Change download settings",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		payload := map[string]interface{}{}
		if cmd.Flags().Changed("channel") {
			channel, _ := cmd.Flags().GetString("channel")
			payload["channel_name"] = channel
		}
		if cmd.Flags().Changed("delete-files") {
			deleteFiles, _ := cmd.Flags().GetBool("delete-files")
			payload["delete_files"] = deleteFiles
		}
		if len(payload) == 0 {
			fail(fmt.Errorf("nothing to change, use --channel or --delete-files"))
		}

		var d app.DownloadInfo
		call(http.MethodPatch, "/api/v1/downloads/"+url.PathEscape(args[0]), payload, &d)
		fmt.Printf("Channel: %s\n", d.ChannelName)
		fmt.Printf("Delete files on remove: %t\n", d.DeleteFiles)
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [category]",
	Short: "View daemon or error logs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		limit, _ := cmd.Flags().GetInt("limit")
		search, _ := cmd.Flags().GetString("search")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		query := url.Values{}
		query.Set("limit", strconv.Itoa(limit))
		path := "/api/v1/logs/" + url.PathEscape(args[0])
		if search != "" {
			path += "/search"
			query.Set("q", search)
		}

		var result struct {
			Entries []map[string]interface{} `json:"entries"`
		}
		call(http.MethodGet, path+"?"+query.Encode(), nil, &result)

		for _, entry := range result.Entries {
			if jsonOutput {
				line, _ := json.Marshal(entry)
				fmt.Println(string(line))
				continue
			}
			fmt.Printf("%v [%v] %v", entry["timestamp"], entry["level"], entry["message"])
			if fields, ok := entry["fields"].(map[string]interface{}); ok {
				for k, v := range fields {
					fmt.Printf(" %s=%v", k, v)
				}
			}
			fmt.Println()
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the server configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := os.ExpandEnv("$HOME/.remotedl/config.yaml")
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			fail(fmt.Errorf("%s already exists", path))
		}
		if err := app.SaveConfig(domain.DefaultConfig(), path); err != nil {
			fail(err)
		}
		fmt.Printf("Configuration written to %s\n", path)
	},
}

func init() {
	addCmd.Flags().StringP("enclosure-type", "t", "", "MIME type declared by the feed (e.g. application/x-bittorrent)")
	addCmd.Flags().StringP("channel", "c", "", "Channel name to group the download under")
	listCmd.Flags().StringP("state", "s", "", "Filter by state")
	stopCmd.Flags().BoolP("delete", "d", false, "Delete downloaded data")
	setCmd.Flags().String("channel", "", "Channel name (only set once)")
	setCmd.Flags().Bool("delete-files", true, "Delete data when the download is removed")
	logsCmd.Flags().IntP("limit", "n", 50, "Number of entries")
	logsCmd.Flags().StringP("search", "q", "", "Only show entries containing this text")
	logsCmd.Flags().BoolP("json", "j", false, "Output in JSON format")
}

func progress(s domain.DownloadStatus) string {
	if s.TotalSize < 0 {
		return humanize.Bytes(uint64(max(s.CurrentSize, 0)))
	}
	pct := 0.0
	if s.TotalSize > 0 {
		pct = float64(s.CurrentSize) / float64(s.TotalSize) * 100
	}
	return fmt.Sprintf("%s / %s (%.0f%%)", humanize.Bytes(uint64(max(s.CurrentSize, 0))), humanize.Bytes(uint64(s.TotalSize)), pct)
}

func rate(s domain.DownloadStatus) string {
	if s.Rate <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(s.Rate)) + "/s"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
