// Hush CLI - command line client for the Hush relay
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/eldtechnologies/hush/clients/go/hush"
	"github.com/eldtechnologies/hush/internal/protocol"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("HUSH_URL")
	client := hush.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "keygen":
		exitOnError(client.GenerateKeys())
		if len(os.Args) > 2 {
			client.Username = os.Args[2]
		}
		exitOnError(client.SaveConfig())
		fmt.Printf("Keypair written to %s\n", client.ConfigDir)

	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "presence":
		users, err := client.Presence()
		exitOnError(err)
		for _, u := range users {
			state := "offline"
			if u.Online {
				state = "online"
			}
			fmt.Printf("  %-20s %s\n", u.Username, state)
		}

	case "listen":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: hush listen <username>")
			os.Exit(1)
		}
		events, err := client.Connect(os.Args[2])
		exitOnError(err)
		defer client.Close()
		for ev := range events {
			printEvent(client, ev)
		}

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: hush send <from> <to> <message> [recipient_pubkey]")
			os.Exit(1)
		}
		events, err := client.Connect(os.Args[2])
		exitOnError(err)
		defer client.Close()

		receiver, message := os.Args[3], os.Args[4]
		if len(os.Args) > 5 {
			err = client.SendSealed(receiver, message, os.Args[5])
		} else {
			err = client.Send(receiver, message)
		}
		exitOnError(err)

		// Wait for the ack so the message is stored before we hang up.
		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev := <-events:
				if ev.Type == protocol.TypeMessageAck {
					var ack protocol.MessageAck
					json.Unmarshal(ev.Data, &ack)
					fmt.Printf("Sent %s (delivered=%v)\n", ack.ID, ack.Delivered)
					return
				}
			case <-deadline:
				fmt.Fprintln(os.Stderr, "Error: no ack from relay")
				os.Exit(1)
			}
		}

	case "history":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: hush history <username> <peer>")
			os.Exit(1)
		}
		events, err := client.Connect(os.Args[2])
		exitOnError(err)
		defer client.Close()
		exitOnError(client.RequestHistory(os.Args[3]))

		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev := <-events:
				if ev.Type != protocol.TypeConversationHistory {
					continue
				}
				var hist protocol.ConversationHistory
				json.Unmarshal(ev.Data, &hist)
				for _, msg := range hist.Messages {
					printMessage(client, msg.Sender, string(msg.Payload), msg.Timestamp)
				}
				return
			case <-deadline:
				fmt.Fprintln(os.Stderr, "Error: no history from relay")
				os.Exit(1)
			}
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func printEvent(client *hush.Client, ev hush.Event) {
	switch ev.Type {
	case protocol.TypeMessageReceived:
		var msg protocol.MessageReceived
		if json.Unmarshal(ev.Data, &msg) != nil {
			return
		}
		printMessage(client, msg.Sender, string(msg.Payload), msg.Timestamp)
	case protocol.TypeTypingState:
		var state protocol.TypingState
		if json.Unmarshal(ev.Data, &state) != nil {
			return
		}
		if state.Typing {
			fmt.Printf("… %s is typing\n", state.Sender)
		}
	case protocol.TypePresenceList:
		// Too chatty to print on every change.
	default:
		fmt.Printf("[%s] %s\n", ev.Type, ev.Data)
	}
}

func printMessage(client *hush.Client, from, payload string, ts int64) {
	when := time.UnixMilli(ts).Format("2006-01-02 15:04:05")
	body := payload
	if client.PrivateKey != nil {
		if pt, err := hush.Decrypt(payload, client.PrivateKey); err == nil {
			body = pt
		}
	}
	fmt.Printf("[%s] %s: %s\n", when, from, body)
}

func usage() {
	fmt.Println(`Hush CLI - encrypted message relay client

Usage: hush <command> [options]

Commands:
  keygen [username]                        Generate and store a keypair
  listen <username>                        Connect and print incoming events
  send <from> <to> <message> [pubkey]      Send a message, sealed when a key is given
  history <username> <peer>                Print the stored conversation
  presence                                 List who is online
  health                                   Check relay health

Environment:
  HUSH_URL      Relay URL (default: http://localhost:8087)
  HUSH_CONFIG   Config directory (default: ~/.hush)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
