// Command ampctl connects to an agentd socket and invokes one method,
// printing its result. It demonstrates the RemoteObject Creator's
// reconnect-and-replay client stack end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/searchktools/ampd/rpc"
)

func main() {
	socketPath := flag.String("socket", "/run/ampd.sock", "Unix-domain socket path")
	method := flag.String("method", "ping", "method to call")
	timeout := flag.Duration("timeout", 10*time.Second, "connect + call deadline")
	flag.Parse()

	args := make([]interface{}, 0, flag.NArg())
	for _, a := range flag.Args() {
		args = append(args, a)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	creator := rpc.New(*socketPath, rpc.Options{RetryOnReconnect: false})
	obj, err := creator.Connect(ctx)
	if err != nil {
		log.Fatalf("ampctl: connect: %v", err)
	}
	defer creator.Disconnect()

	result, err := obj.Call(*method, args, nil).Wait(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ampctl: %s: %v\n", *method, err)
		os.Exit(1)
	}
	fmt.Println(formatResult(result))
}

func formatResult(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}
