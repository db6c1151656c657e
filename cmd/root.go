package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	u "net/url"
	"os"
	"path"
	"time"

	"github.com/spf13/cobra"
	"github.com/spool-dl/spool/internal"
	"github.com/spool-dl/spool/utils"
)

var (
	outputDir   string
	filename    string
	showSHA256  bool
	timeout     time.Duration
	kaTimeout   time.Duration
	userAgent   string
	proxyURL    string
	token       string
	headers     []string
	debug       bool
	urlListFile string
	numWorkers  int
)

var SpoolVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "spool [url]",
	Short:   "Spool streams a URL straight to a file on disk",
	Version: SpoolVersion,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if len(args) == 0 && urlListFile == "" {
			utils.PrintError("No URL or URL list provided")
			os.Exit(1)
		}
		if urlListFile != "" && len(args) > 0 {
			utils.PrintError("Cannot specify url argument and --urllist together, choose one")
			os.Exit(1)
		}
		if userAgent == "randomize" {
			userAgent = utils.GetRandomUserAgent()
		}
		httpClientConfig := utils.HTTPClientConfig{
			Timeout:   timeout,
			KATimeout: kaTimeout,
			ProxyURL:  proxyURL,
			UserAgent: userAgent,
			Token:     token,
			Headers:   utils.ParseHeaderArgs(headers),
		}
		ctx := context.Background()
		if len(args) > 0 {
			// Handle single URL download
			url := args[0]
			parsed, err := u.Parse(url)
			if err != nil {
				utils.PrintError("Invalid URL format")
				os.Exit(1)
			}
			if filename == "" {
				filename = path.Base(parsed.Path)
			}
			if filename == "" || filename == "/" || filename == "." {
				utils.PrintError("Cannot infer file name from URL, provide --filename")
				os.Exit(1)
			}
			entry := utils.DownloadEntry{
				URL:      url,
				Dir:      outputDir,
				Filename: filename,
				Type:     utils.DetermineFetchType(url),
			}
			digest, err := internal.SingleDownload(ctx, entry, httpClientConfig, showSHA256)
			if err != nil {
				fmt.Println()
				utils.PrintError("Encountered failed operation(s)")
				os.Exit(1)
			}
			if showSHA256 {
				utils.PrintDetail(fmt.Sprintf("SHA256: %s", hex.EncodeToString(digest)))
			}
			return
		}
		// Handle batch download from URL list file
		entries, err := utils.ReadDownloadList(urlListFile)
		if err != nil {
			utils.PrintError("Failed to read URL list file")
			os.Exit(1)
		}
		if err := internal.BatchDownload(ctx, entries, numWorkers, httpClientConfig); err != nil {
			fmt.Println()
			utils.PrintError("Encountered failed operation(s)")
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Destination directory (must already exist)")
	rootCmd.Flags().StringVarP(&filename, "filename", "f", "", "Destination file name (inferred from the URL if not provided)")
	rootCmd.Flags().StringVarP(&urlListFile, "urllist", "l", "", "Path to YAML file containing URLs and output paths")
	rootCmd.Flags().IntVarP(&numWorkers, "workers", "w", 1, "Number of links to download in parallel")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.Flags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser UA)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")

	// flags without shorthand
	rootCmd.Flags().StringVar(&token, "token", "", "Bearer token attached to every request")
	rootCmd.Flags().BoolVar(&showSHA256, "sha256", false, "Print the SHA-256 digest of the downloaded file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
