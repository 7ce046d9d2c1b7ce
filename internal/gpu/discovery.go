package gpu

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const (
	drmClassPath = "class/drm"
	vendorAMD    = "1002"
)

// Info describes a DRM card discovered via sysfs.
type Info struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	PCI    string `json:"pci"`
	PCIID  string `json:"pci_id"`
	Driver string `json:"driver"`
	Name   string `json:"name"`
	Device string `json:"-"`
	Vendor string `json:"vendor"`
}

// Discover enumerates DRM cards exposed via sysfs under the provided root,
// ordered by card index.
func Discover(root string, logger *slog.Logger) ([]Info, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	entries, err := fs.ReadDir(sysRoot.FS(), drmClassPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("drm class path missing", "path", filepath.Join(root, drmClassPath))
			return nil, nil
		}
		return nil, fmt.Errorf("read drm class dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "card") || strings.ContainsRune(name, '-') || !allDigits(name[4:]) {
			continue
		}
		if !entry.IsDir() && entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		cardRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, name))
		if err != nil {
			logger.Warn("failed to open card root", "card", name, "err", err)
			continue
		}
		info, err := loadCardInfo(name, cardRoot)
		if err := cardRoot.Close(); err != nil {
			logger.Debug("failed to close card root", "card", name, "err", err)
		}
		if err != nil {
			logger.Warn("failed to load card info", "card", name, "err", err)
			continue
		}
		info.Device = filepath.Join(root, drmClassPath, name, "device")
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Index < infos[j].Index })
	return infos, nil
}

// FirstAMD returns the lowest-indexed card driven by an AMD GPU.
func FirstAMD(infos []Info) (Info, bool) {
	for _, info := range infos {
		if info.Vendor == vendorAMD || info.Driver == "amdgpu" {
			return info, true
		}
	}
	return Info{}, false
}

func loadCardInfo(cardID string, cardRoot *os.Root) (Info, error) {
	deviceRoot, err := cardRoot.OpenRoot("device")
	if err != nil {
		return Info{}, fmt.Errorf("open device root: %w", err)
	}
	defer deviceRoot.Close()

	index, _ := strconv.Atoi(strings.TrimPrefix(cardID, "card"))
	info := Info{ID: cardID, Index: index}

	var subVendor, subDevice string
	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		text := string(data)
		info.PCI = parseKeyValue(text, "PCI_SLOT_NAME")
		info.PCIID = parseKeyValue(text, "PCI_ID")
		info.Driver = parseKeyValue(text, "DRIVER")
		if parts := strings.SplitN(parseKeyValue(text, "PCI_SUBSYS_ID"), ":", 2); len(parts) == 2 {
			subVendor, subDevice = parts[0], parts[1]
		}
	}

	if info.PCIID == "" {
		if vendor, err := readTrim(deviceRoot, "vendor"); err == nil {
			if device, err := readTrim(deviceRoot, "device"); err == nil {
				info.PCIID = strings.TrimPrefix(vendor, "0x") + ":" + strings.TrimPrefix(device, "0x")
			}
		}
	}
	if subVendor == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
	}
	if subDevice == "" {
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	vendorID, deviceID := splitPCIIdentifier(info.PCIID)
	info.Vendor = normalizePCIID(vendorID)

	info.Name, _ = readTrim(deviceRoot, "product_name")
	if resolved := lookupGPUName(vendorID, deviceID, subVendor, subDevice); shouldUseResolvedName(info.Name, resolved) {
		info.Name = resolved
	}
	if info.Name == "" {
		info.Name = info.Driver
	}

	return info, nil
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func allDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
