// Package sandboxsdk is a Go client for a remote sandboxed-agent service.
//
// # Overview
//
// A sandbox service runs an agent loop in an isolated environment and speaks
// a small JSON envelope protocol over a WebSocket. This library opens
// sessions against such a service, sends user turns, answers tool calls with
// handlers that run in the calling process, and surfaces the agent's output
// either as a final result or as a stream of events.
//
// # Organization
//
// The library is organized into the following packages:
//
//   - github.com/localrivet/sandboxsdk/client: Sessions, tools, configuration and the Client
//   - github.com/localrivet/sandboxsdk/protocol: Envelope and payload types of the wire protocol
//   - github.com/localrivet/sandboxsdk/transport: The Transport interface, its status model and reconnect backoff
//   - github.com/localrivet/sandboxsdk/transport/websocket: The WebSocket transport
//   - github.com/localrivet/sandboxsdk/auth: Budget tokens and JWKS token verification
//   - github.com/localrivet/sandboxsdk/logx: The logger used throughout the library
//
// # Basic Usage
//
//	import "github.com/localrivet/sandboxsdk/client"
//
//	cfg, err := client.LoadFromFile("sandbox.yaml", nil)
//	if err != nil {
//	  log.Fatal(err)
//	}
//	c, err := client.New(*cfg)
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Close()
//
//	s, err := c.NewSession(ctx, client.SessionConfig{
//	  Tools: []client.Tool{
//	    client.TypedTool("add", "Add two numbers", func(ctx context.Context, args *AddArgs) (interface{}, error) {
//	      return args.A + args.B, nil
//	    }),
//	  },
//	})
//	if err != nil {
//	  log.Fatal(err)
//	}
//
//	res, err := s.Query(ctx, "What is 2+3?")
//	if err != nil {
//	  log.Fatal(err)
//	}
//	fmt.Println(res.Text())
//
// Streaming a turn:
//
//	for ev, err := range s.Stream(ctx, "Summarize the repository") {
//	  if err != nil {
//	    log.Fatal(err)
//	  }
//	  if ev.Type == client.EventTextDelta {
//	    fmt.Print(ev.Text)
//	  }
//	}
//
// # Sessions
//
// A session moves through idle, initializing, ready, processing and
// waiting_tool, and ends in completed or error. One turn runs at a time.
// Inbound envelopes are queued in arrival order, so a slow consumer never
// loses output. When the transport reconnects, the session re-sends its init
// with the resume field set and waits for the service to acknowledge it again.
//
// # Versioning
//
// sandboxsdk follows semantic versioning. The current version is available through the Version constant.
package sandboxsdk

// Version is the current version of the sandboxsdk library
const Version = "0.1.0"
