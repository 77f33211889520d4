package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"prognet/core/ckkswrapper"
	"prognet/progressive"
	"prognet/split"
	"prognet/utils"
)

var (
	serveModelDir string
	serveListen   string
	serveLogN     int
)

var serveCmd = &cobra.Command{
	Use:   "serve-he",
	Short: "Serve the first layer of a trained model on encrypted features",
	Long: `Load the first layer of every task column from --model-dir and answer
encrypted forward requests. The server holds no keys.

With --listen every TCP connection is served in its own goroutine;
without it a single session is served on stdin/stdout.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveModelDir, "model-dir", "", "Trained model directory")
	f.StringVar(&serveListen, "listen", "", "TCP address to listen on, e.g. :7000")
	f.IntVar(&serveLogN, "logN", ckkswrapper.DefaultLogN, "Ring dimension log2")
	_ = serveCmd.MarkFlagRequired("model-dir")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListen == "" {
		// stdout carries the protocol
		utils.Output = os.Stderr
	}
	model, err := progressive.LoadRegressor(serveModelDir)
	if err != nil {
		return err
	}
	params, err := ckkswrapper.ParametersForLogN(serveLogN)
	if err != nil {
		return err
	}
	layers, err := split.FirstLayers(model)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveListen == "" {
		srv, err := split.NewServer(ckkswrapper.NewServerKit(params), layers)
		if err != nil {
			return err
		}
		utils.Logf("[SERVER] serving %d tasks on stdin/stdout (logN=%d)", model.NTasks(), serveLogN)
		return srv.Serve(ctx, split.NewProtocol(os.Stdin, os.Stdout))
	}

	ln, err := net.Listen("tcp", serveListen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", serveListen, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	utils.Logf("[SERVER] serving %d tasks on %s (logN=%d)", model.NTasks(), ln.Addr(), serveLogN)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		// evaluators are not safe for concurrent use
		srv, err := split.NewServer(ckkswrapper.NewServerKit(params), layers)
		if err != nil {
			conn.Close()
			return err
		}
		go func() {
			defer conn.Close()
			utils.Logf("[SERVER] client %s connected", conn.RemoteAddr())
			if err := srv.Serve(ctx, split.NewProtocol(conn, conn)); err != nil {
				utils.Logf("[SERVER] client %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}
