package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/akamensky/argparse"
	"github.com/junbin-yang/fastboot-go/pkg/client"
	"github.com/junbin-yang/fastboot-go/pkg/transport/udp"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

func main() {
	args := argparse.NewParser("fastboot-cli", "fastboot host tool over TCP or UDP")

	network := args.Selector("t", "transport", []string{"tcp", "udp"}, &argparse.Options{Required: false,
		Help: "Transport to use", Default: "tcp"})
	address := args.String("a", "address", &argparse.Options{Required: true, Help: "Device address host:port"})
	mtu := args.Int("m", "mtu", &argparse.Options{Required: false, Help: "Proposed UDP MTU", Default: udp.DefaultMTU})
	timeout := args.Int("w", "timeout", &argparse.Options{Required: false, Help: "UDP retransmit timeout in ms",
		Default: int(udp.DefaultRetransmitTimeout / time.Millisecond)})
	verbose := args.Flag("v", "verbose", &argparse.Options{Help: "Debug logging"})

	getvarCmd := args.NewCommand("getvar", "Read a device variable")
	getvarName := getvarCmd.String("n", "name", &argparse.Options{Required: true, Help: "Variable name, or all"})

	downloadCmd := args.NewCommand("download", "Download a file into the device buffer")
	downloadFile := downloadCmd.String("f", "file", &argparse.Options{Required: true, Help: "File path"})

	uploadCmd := args.NewCommand("upload", "Save the device upload buffer to a file")
	uploadFile := uploadCmd.String("f", "file", &argparse.Options{Required: true, Help: "File path"})

	flashCmd := args.NewCommand("flash", "Write an image to a partition")
	flashPart := flashCmd.String("p", "partition", &argparse.Options{Required: true, Help: "Partition name"})
	flashFile := flashCmd.String("f", "file", &argparse.Options{Required: true, Help: "Image path"})

	eraseCmd := args.NewCommand("erase", "Erase a partition")
	erasePart := eraseCmd.String("p", "partition", &argparse.Options{Required: true, Help: "Partition name"})

	rebootCmd := args.NewCommand("reboot", "Reboot the device")
	rebootTarget := rebootCmd.String("g", "target", &argparse.Options{Required: false,
		Help: "bootloader, fastboot, recovery or continue"})

	rawCmd := args.NewCommand("raw", "Send a raw command line")
	rawLine := rawCmd.String("c", "command", &argparse.Options{Required: true, Help: "Command, e.g. oem echo hi"})

	if err := args.Parse(os.Args); err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}
	if *verbose {
		logger.SetLevel(logger.DebugLevel)
	}

	var c *client.Client
	var err error
	if *network == "udp" {
		cfg := udp.DefaultConfig()
		cfg.MTU = *mtu
		cfg.RetransmitTimeout = time.Duration(*timeout) * time.Millisecond
		c, err = client.DialUDP(*address, cfg)
	} else {
		c, err = client.DialTCP(*address)
	}
	if err != nil {
		fail("连接 %s 失败: %v", *address, err)
	}
	defer c.Close()
	c.OnInfo = func(msg string) { fmt.Println("(bootloader) " + msg) }

	switch {
	case getvarCmd.Happened():
		if *getvarName == "all" {
			vars, err := c.GetVarAll()
			check(err)
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s: %s\n", k, vars[k])
			}
			return
		}
		v, err := c.GetVar(*getvarName)
		check(err)
		fmt.Printf("%s: %s\n", *getvarName, v)

	case downloadCmd.Happened():
		data := readFile(*downloadFile)
		start := time.Now()
		check(c.Download(data))
		fmt.Printf("Sending '%s' (%d KB) OKAY [%.3fs]\n", *downloadFile, len(data)/1024, time.Since(start).Seconds())

	case uploadCmd.Happened():
		data, err := c.Upload()
		check(err)
		if err := os.WriteFile(*uploadFile, data, 0644); err != nil {
			fail("写入 %s 失败: %v", *uploadFile, err)
		}
		fmt.Printf("Received %d bytes -> %s\n", len(data), *uploadFile)

	case flashCmd.Happened():
		data := readFile(*flashFile)
		start := time.Now()
		check(c.Flash(*flashPart, data))
		fmt.Printf("Writing '%s' OKAY [%.3fs]\n", *flashPart, time.Since(start).Seconds())

	case eraseCmd.Happened():
		check(c.Erase(*erasePart))
		fmt.Printf("Erasing '%s' OKAY\n", *erasePart)

	case rebootCmd.Happened():
		check(c.Reboot(*rebootTarget))
		fmt.Println("Rebooting OKAY")

	case rawCmd.Happened():
		msg, _, err := c.RawCommand(*rawLine)
		check(err)
		fmt.Println("OKAY " + msg)
	}
}

func readFile(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		fail("读取 %s 失败: %v", path, err)
	}
	return data
}

func check(err error) {
	if err != nil {
		fail("FAILED (%v)", err)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
