// Package output writes scan results as plain text files.
package output

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"

	"github.com/marcuoli/go-privscan/pkg/privscan"
	fileutil "github.com/projectdiscovery/utils/file"
)

// DefaultDir is the output directory used when none is configured.
const DefaultDir = "output"

// File names inside the output directory.
const (
	SubnetsFile    = "subnets.txt"
	HostnamesFile  = "ip_hostname.txt"
	UpFile         = "up_ips.txt"
	portFileFormat = "%d.txt"
)

// PortFile returns the file name holding addresses with port open.
func PortFile(port int) string {
	return fmt.Sprintf(portFileFormat, port)
}

// Writer serializes a privscan.Result into Dir.
type Writer struct {
	Dir string
}

// NewWriter creates a writer for dir, or DefaultDir if dir is empty.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = DefaultDir
	}
	return &Writer{Dir: dir}
}

// Write creates the output directory if needed and writes every result
// file. It returns the paths written, in write order.
func (w *Writer) Write(res *privscan.Result) ([]string, error) {
	if res == nil {
		return nil, fmt.Errorf("nil result")
	}
	if !fileutil.FolderExists(w.Dir) {
		if err := fileutil.CreateFolder(w.Dir); err != nil {
			return nil, fmt.Errorf("create output directory %s: %w", w.Dir, err)
		}
	}

	var written []string
	write := func(name string, lines func(*bufio.Writer) error) error {
		path := filepath.Join(w.Dir, name)
		if err := writeLines(path, lines); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if err := write(SubnetsFile, func(bw *bufio.Writer) error {
		for _, b := range res.Subnets {
			if _, err := bw.WriteString(b.String() + "\n"); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return written, err
	}

	if err := write(HostnamesFile, func(bw *bufio.Writer) error {
		for _, r := range res.Hosts {
			if _, err := bw.WriteString(r.Addr.String() + "," + r.Hostname + "\n"); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return written, err
	}

	if err := write(UpFile, addrLines(res.Up)); err != nil {
		return written, err
	}

	for _, port := range res.Ports {
		if err := write(PortFile(port), addrLines(res.OpenPorts[port])); err != nil {
			return written, err
		}
	}
	return written, nil
}

func addrLines(addrs []netip.Addr) func(*bufio.Writer) error {
	return func(bw *bufio.Writer) error {
		for _, a := range addrs {
			if _, err := bw.WriteString(a.String() + "\n"); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeLines(path string, lines func(*bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := lines(bw); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Summary returns a one-line description of the written counts.
func Summary(res *privscan.Result) string {
	s := strconv.Itoa(len(res.Subnets)) + " subnets, " +
		strconv.Itoa(len(res.Hosts)) + " hosts, " +
		strconv.Itoa(len(res.Up)) + " up"
	for _, p := range res.Ports {
		s += ", " + strconv.Itoa(len(res.OpenPorts[p])) + " on " + strconv.Itoa(p)
	}
	return s
}
