// Command hostedauth drives the hosted login from a terminal. It prints an
// authorize URL, accepts the callback URL the browser lands on and prints
// every session state change.
//
// Commands read from stdin:
//
//	<url>          hand a navigation or callback URL to the controller
//	login [hint]   print a fresh login URL
//	stepup         print a step-up URL
//	refresh        refresh the token pair now
//	tenant <id>    switch the active tenant
//	region <key>   select another region
//	flags          print the feature flags
//	logout         end the session
//	quit           exit
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aussiebroadwan/hostedauth/internal/app"
	"github.com/aussiebroadwan/hostedauth/internal/controller"
	"github.com/aussiebroadwan/hostedauth/internal/state"
)

func main() {
	cfg := app.LoadConfig()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, unsubscribe := application.Session().Subscribe(printState)
	defer unsubscribe()

	go func() {
		defer cancel()
		repl(ctx, application)
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func printState(s state.Snapshot) {
	user := "-"
	if s.User != nil {
		user = s.User.Email
	}
	region := "-"
	if s.SelectedRegion != nil {
		region = s.SelectedRegion.Key
	}
	fmt.Printf("state: authenticated=%t loader=%t refreshing=%t step_up=%t user=%s region=%s\n",
		s.IsAuthenticated, s.ShowLoader(), s.RefreshingToken, s.IsStepUpAuthorization, user, region)
}

func repl(ctx context.Context, application *app.Application) {
	ctrl := application.Controller()
	in := bufio.NewScanner(os.Stdin)

	fmt.Println("type 'login' for a login URL, paste callback URLs, 'quit' to exit")

	for in.Scan() {
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		var err error
		switch fields[0] {
		case "quit", "exit":
			return
		case "login":
			var u string
			if u, err = ctrl.LoginURL(ctx, arg); err == nil {
				fmt.Println(u)
			}
		case "stepup":
			var u string
			if u, err = ctrl.StepUp(ctx, 0); err == nil {
				fmt.Println(u)
			}
		case "refresh":
			err = ctrl.RefreshTokenIfNeeded(ctx)
		case "tenant":
			err = ctrl.SwitchTenant(ctx, arg)
		case "region":
			err = ctrl.SelectRegion(ctx, arg)
		case "flags":
			for name, on := range application.Flags().Flags() {
				fmt.Printf("%s=%t\n", name, on)
			}
		case "logout":
			err = ctrl.Logout(ctx)
		default:
			var d controller.Decision
			if d, err = ctrl.HandleURL(ctx, fields[0]); err == nil {
				fmt.Println("decision:", d)
			}
		}

		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}
