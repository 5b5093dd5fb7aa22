package main

import (
	"net/http"
	"net/http/cgi"
	"os"

	"homeapi/internal/api"
	"homeapi/internal/middleware"

	"github.com/spf13/cobra"
)

var cgiCmd = &cobra.Command{
	Use:   "cgi",
	Short: "Handle a single request from the CGI environment",
	Long: `Handles one request described by the CGI environment variables and
writes the response to stdout. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		var handler http.Handler = api.NewRouter(a.handlers(nil))
		if prefix := os.Getenv("SCRIPT_NAME"); prefix != "" {
			handler = http.StripPrefix(prefix, handler)
		}
		return cgi.Serve(middleware.Standard(handler, logger))
	},
}
