package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thereceipt/escpos-bridge/internal/escpos"
	"github.com/thereceipt/escpos-bridge/internal/printer"
)

const (
	defaultServerURL = "http://localhost:12212"
)

func main() {
	var serverURL string
	var port int
	var codepage string
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.IntVar(&port, "port", 0, "Printer port (default: server configuration)")
	flag.StringVar(&codepage, "codepage", "", "Transcode text to a printer codepage")
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	path, body, err := buildRequest(flag.Args(), port, codepage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	result := execute(serverURL, path, body)

	if result.Success {
		printSuccess(result)
		os.Exit(0)
	}
	printError(result)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ESC/POS Bridge CLI

Usage:
  escpos-cli [flags] <command>

Flags:
  -s, -server <url>    Server URL (default: %s)
  -port <n>            Printer port
  -codepage <name>     Transcode text (%s)

Commands:
  test <ip>
    Check that the printer accepts connections

  print <ip> <text>
    Print text as-is

  print <ip> --compose <commands...>
    Compose and print ESC/POS from command-line arguments
    Compose commands:
      init                    - Reset the printer
      text:"Hello World"      - Text followed by a line feed
      align:center            - left, center or right
      feed:2                  - Feed lines
      cut / partial-cut       - Cut paper

  image <ip> <text> <image-file>
    Print a centered logo followed by text

  drawer <ip>
    Open the cash drawer

  autodetect [base-ip start end]
    Find the first printer in the range (default: server configuration)

Examples:
  escpos-cli test 192.168.1.50
  escpos-cli print 192.168.1.50 "Hola"
  escpos-cli -codepage cp850 print 192.168.1.50 "Año nuevo"
  escpos-cli print 192.168.1.50 --compose init align:center text:"Mesa 4" feed:3 cut
  escpos-cli image 192.168.1.50 "Gracias" ./logo.png
  escpos-cli autodetect 10.0.0 1 50

`, defaultServerURL, strings.Join(escpos.Codepages(), ", "))
}

// buildRequest maps command-line arguments to a route and JSON body
func buildRequest(args []string, port int, codepage string) (string, interface{}, error) {
	opts := printer.Options{Port: port, Codepage: codepage}
	if len(args) >= 2 {
		opts.IP = args[1]
	}

	switch args[0] {
	case "test":
		if len(args) != 2 {
			return "", nil, fmt.Errorf("usage: test <ip>")
		}
		return "/printer/test-connection", opts, nil

	case "print":
		if len(args) < 3 {
			return "", nil, fmt.Errorf("usage: print <ip> <text> | print <ip> --compose <commands...>")
		}
		if args[2] == "--compose" {
			data, err := compose(args[3:])
			if err != nil {
				return "", nil, err
			}
			opts.Data = data
			opts.Codepage = ""
		} else {
			opts.Data = strings.Join(args[2:], " ")
		}
		return "/printer/print", opts, nil

	case "image":
		if len(args) != 4 {
			return "", nil, fmt.Errorf("usage: image <ip> <text> <image-file>")
		}
		img, err := os.ReadFile(args[3])
		if err != nil {
			return "", nil, fmt.Errorf("failed to read image: %w", err)
		}
		opts.Data = args[2] + "\n"
		opts.ImageBase64 = base64.StdEncoding.EncodeToString(img)
		return "/printer/print-with-image", opts, nil

	case "drawer":
		if len(args) != 2 {
			return "", nil, fmt.Errorf("usage: drawer <ip>")
		}
		return "/printer/open-drawer", opts, nil

	case "autodetect":
		req := printer.AutodetectOptions{Port: port}
		switch len(args) {
		case 1:
		case 4:
			start, err1 := strconv.Atoi(args[2])
			end, err2 := strconv.Atoi(args[3])
			if err1 != nil || err2 != nil {
				return "", nil, fmt.Errorf("start and end must be numbers")
			}
			req.BaseIP, req.StartRange, req.EndRange = args[1], start, end
		default:
			return "", nil, fmt.Errorf("usage: autodetect [base-ip start end]")
		}
		return "/printer/autodetect", req, nil

	case "help":
		printUsage()
		os.Exit(0)
	}

	return "", nil, fmt.Errorf("unknown command: %s. Run without arguments for help", args[0])
}

// compose builds an ESC/POS stream from compose arguments such as
// init align:center text:"Hola" feed:2 cut
func compose(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("no compose arguments provided")
	}

	enc := escpos.NewEncoder()
	for _, arg := range args {
		name, value, _ := strings.Cut(arg, ":")
		value = strings.Trim(value, `"'`)

		switch name {
		case "init":
			enc.Initialize()
		case "text":
			enc.WriteText(value).LineFeed()
		case "align":
			align, err := parseAlignment(value)
			if err != nil {
				return "", err
			}
			enc.SetAlignment(align)
		case "feed":
			lines, err := strconv.Atoi(value)
			if err != nil {
				return "", fmt.Errorf("invalid feed lines value: %s", value)
			}
			enc.Feed(lines)
		case "cut":
			enc.Cut()
		case "partial-cut":
			enc.PartialCut()
		default:
			return "", fmt.Errorf("unknown compose command '%s'", arg)
		}
	}

	return string(enc.Bytes()), nil
}

func parseAlignment(value string) (escpos.Alignment, error) {
	switch value {
	case "left":
		return escpos.AlignLeft, nil
	case "center":
		return escpos.AlignCenter, nil
	case "right":
		return escpos.AlignRight, nil
	}
	return 0, fmt.Errorf("invalid alignment: %s", value)
}

func execute(serverURL, path string, body interface{}) *printer.Result {
	url := strings.TrimSuffix(serverURL, "/") + path

	jsonData, err := json.Marshal(body)
	if err != nil {
		return &printer.Result{Error: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	client := &http.Client{Timeout: time.Minute}
	resp, err := client.Post(url, "application/json", strings.NewReader(string(jsonData)))
	if err != nil {
		return &printer.Result{Error: fmt.Sprintf("failed to connect to server: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &printer.Result{Error: fmt.Sprintf("failed to read response: %v", err)}
	}

	var result printer.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return &printer.Result{Error: fmt.Sprintf("failed to parse response: %v", err)}
	}

	return &result
}

func printSuccess(result *printer.Result) {
	if result.Message != "" {
		fmt.Println(result.Message)
	}
	if result.IP != "" {
		fmt.Printf("Printer: %s:%d\n", result.IP, result.Port)
	}
}

func printError(result *printer.Result) {
	if result.ErrorKind != "" {
		fmt.Fprintf(os.Stderr, "Error (%s): %s\n", result.ErrorKind, result.Error)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", result.Error)
}
