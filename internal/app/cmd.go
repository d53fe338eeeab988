package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/careportal/internal/model"
	"github.com/hitoshi/careportal/internal/notify"
	"github.com/hitoshi/careportal/internal/portal"
	"github.com/hitoshi/careportal/internal/session"
)

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。logOutはJSONログの出力先。
// SIGINTまたはSIGTERMを受信するとコマンドのコンテキストをキャンセルする。
func Run(logOut io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(logOut)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand はcareportalのルートコマンドを生成する。
func NewRootCommand(logOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "careportal",
		Short:         "Healthcare portal data sync client",
		Long:          "Role-based healthcare portal client: cached reads, scoped invalidation on writes, persistent session.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(logOut),
		newLoginCommand(logOut),
		newRegisterCommand(logOut),
		newLogoutCommand(logOut),
		newWhoamiCommand(logOut),
		newProfileCommand(logOut),
		newResourcesCommand(logOut),
		newListCommand(logOut),
		newGetCommand(logOut),
		newCreateCommand(logOut),
		newUpdateCommand(logOut),
		newDeleteCommand(logOut),
		newPasswordResetCommand(logOut),
		newHealthcheckCommand(),
	)
	return root
}

// runtimeFunc はRuntimeを必要とするコマンドの本体。
type runtimeFunc func(cmd *cobra.Command, args []string, rt *Runtime) error

// withRuntime は設定の読み込みとRuntimeの生成・破棄を行うRunEを返す。
// 実行中の通知は標準エラー出力に表示する。
func withRuntime(logOut io.Writer, fn runtimeFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := Init(logOut)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}

		rt, err := NewRuntime(cmd.Context(), cfg, slog.Default())
		if err != nil {
			return err
		}
		defer rt.Close()

		unsubscribe := rt.Notifier.Subscribe(func(ev notify.Event) {
			printNotification(cmd.ErrOrStderr(), ev)
		})
		defer unsubscribe()

		return fn(cmd, args, rt)
	}
}

func printNotification(w io.Writer, ev notify.Event) {
	mark := "✓"
	if ev.Kind == notify.KindError {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n", mark, ev.Message)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printDocument は読み取り結果を出力する。
// 取得に失敗してもキャッシュ済みのデータがあれば警告を表示して出力する。
func printDocument(cmd *cobra.Command, doc portal.Document) error {
	if !doc.HasData {
		if doc.Err != nil {
			return doc.Err
		}
		return model.NewServerError(0, "データを取得できませんでした")
	}
	if doc.Err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: showing cached data from %s: %v\n",
			doc.FetchedAt.Format("2006-01-02 15:04:05"), doc.Err)
	}

	var v any
	if err := json.Unmarshal(doc.Data, &v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), v)
}

// readPayload は--dataの値を返す。"-"の場合は標準入力から読み込む。
func readPayload(cmd *cobra.Command, data string) (json.RawMessage, error) {
	raw := []byte(data)
	if data == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, model.NewValidationError("--dataが不正なJSONです。", nil)
	}
	return raw, nil
}

// --- サブコマンド ---

func newServeCommand(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local view bridge (HTTP) with background prefetch and cache GC",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			return runServe(cmd.Context(), rt)
		}),
	}
}

func newLoginCommand(logOut io.Writer) *cobra.Command {
	var creds model.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("CAREPORTAL_PASSWORD")
			}
			res, err := rt.Auth.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password (defaults to $CAREPORTAL_PASSWORD)")
	return cmd
}

func newRegisterCommand(logOut io.Writer) *cobra.Command {
	var reg model.Registration
	var role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account and log in",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			reg.Role = model.Role(role)
			res, err := rt.Auth.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().StringVar(&reg.Name, "name", "", "display name")
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Password, "password", "", "account password")
	cmd.Flags().StringVar(&reg.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&role, "role", "", "requested role (admin, doctor, patient)")
	return cmd
}

func newLogoutCommand(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the persisted session",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			return rt.Auth.Logout(cmd.Context())
		}),
	}
}

// whoamiOutput はwhoamiの出力。トークンは表示しない。
type whoamiOutput struct {
	IsAuthenticated bool        `json:"isAuthenticated"`
	User            *model.User `json:"user"`
	Route           string      `json:"route,omitempty"`
}

func newWhoamiCommand(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session user and landing route",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			user := rt.Auth.CurrentUser()
			out := whoamiOutput{IsAuthenticated: user != nil, User: user}
			if user != nil {
				out.Route, _ = session.LandingRoute(user.Role)
			}
			return printJSON(cmd.OutOrStdout(), out)
		}),
	}
}

func newProfileCommand(logOut io.Writer) *cobra.Command {
	var name, email, phone, avatarURL string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the logged-in user's profile (only the given flags change)",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			var patch model.UserPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("email") {
				patch.Email = &email
			}
			if flags.Changed("phone") {
				patch.Phone = &phone
			}
			if flags.Changed("avatar-url") {
				patch.AvatarURL = &avatarURL
			}

			user, err := rt.UpdateProfile(cmd.Context(), patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&avatarURL, "avatar-url", "", "avatar image URL")
	return cmd
}

func newResourcesCommand(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List resource names",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			for _, name := range rt.Portal.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}),
	}
}

func newListCommand(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list <resource>",
		Short: "List records of a resource",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			ep, err := rt.Portal.Resource(args[0])
			if err != nil {
				return err
			}
			return printDocument(cmd, ep.ListJSON(cmd.Context()))
		}),
	}
}

func newGetCommand(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			ep, err := rt.Portal.Resource(args[0])
			if err != nil {
				return err
			}
			return printDocument(cmd, ep.GetJSON(cmd.Context(), args[1]))
		}),
	}
}

func newCreateCommand(logOut io.Writer) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "create <resource>",
		Short: "Create a record from a JSON payload",
		Example: `  careportal create appointments --data '{"patientId":"p1","doctorId":"d1","scheduledAt":"2026-11-01T09:00:00Z"}'
  cat payload.json | careportal create patients --data -`,
		Args: cobra.ExactArgs(1),
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			ep, err := rt.Portal.Resource(args[0])
			if err != nil {
				return err
			}
			payload, err := readPayload(cmd, data)
			if err != nil {
				return err
			}
			created, err := ep.CreateJSON(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return printDocument(cmd, portal.Document{Data: created, HasData: true})
		}),
	}
	cmd.Flags().StringVar(&data, "data", "{}", `JSON payload ("-" reads stdin)`)
	return cmd
}

func newUpdateCommand(logOut io.Writer) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "update <resource> <id>",
		Short: "Partially update a record from a JSON payload",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			ep, err := rt.Portal.Resource(args[0])
			if err != nil {
				return err
			}
			payload, err := readPayload(cmd, data)
			if err != nil {
				return err
			}
			updated, err := ep.UpdateJSON(cmd.Context(), args[1], payload)
			if err != nil {
				return err
			}
			return printDocument(cmd, portal.Document{Data: updated, HasData: true})
		}),
	}
	cmd.Flags().StringVar(&data, "data", "{}", `JSON payload ("-" reads stdin)`)
	return cmd
}

func newDeleteCommand(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			ep, err := rt.Portal.Resource(args[0])
			if err != nil {
				return err
			}
			return ep.Delete(cmd.Context(), args[1])
		}),
	}
}

func newPasswordResetCommand(logOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password-reset",
		Short: "Reset a forgotten password with a one-time code",
	}

	var email string
	request := &cobra.Command{
		Use:   "request",
		Short: "Send a one-time code to the account email",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			return rt.Auth.RequestPasswordReset(cmd.Context(), email)
		}),
	}
	request.Flags().StringVar(&email, "email", "", "account email")

	var confirmation model.PasswordResetConfirmation
	confirm := &cobra.Command{
		Use:   "confirm",
		Short: "Set a new password using the one-time code",
		Args:  cobra.NoArgs,
		RunE: withRuntime(logOut, func(cmd *cobra.Command, args []string, rt *Runtime) error {
			return rt.Auth.ConfirmPasswordReset(cmd.Context(), confirmation.Email, confirmation.OTP, confirmation.NewPassword)
		}),
	}
	confirm.Flags().StringVar(&confirmation.Email, "email", "", "account email")
	confirm.Flags().StringVar(&confirmation.OTP, "otp", "", "one-time code")
	confirm.Flags().StringVar(&confirmation.NewPassword, "new-password", "", "new password")

	cmd.AddCommand(request, confirm)
	return cmd
}

// newHealthcheckCommand は軽量サブコマンドのため、フル初期化をスキップする。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the local view bridge /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" {
				port = os.Getenv("SERVER_PORT")
			}
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(cmd.Context(), port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "view bridge port (defaults to $SERVER_PORT or 8080)")
	return cmd
}
