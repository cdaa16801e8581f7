// Command vaultctl is a demonstration CLI over the VM image vault: it
// fetches, removes, and prunes the cached and per-instance images the
// lib/vault package manages.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nrednav/cuid2"

	"github.com/onkernel/hypeman/lib/providers"
	"github.com/onkernel/hypeman/lib/vault"
)

func usage() {
	fmt.Println("vaultctl commands:")
	fmt.Println("  fetch --release REL [--name NAME] [--remote REMOTE] [--type alias|http|file] [--kernel]")
	fmt.Println("  remove NAME")
	fmt.Println("  has NAME")
	fmt.Println("  prune")
	fmt.Println("  update")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx := providers.ProvideContext()
	cfg := providers.ProvideConfig()
	logger, loggerShutdown, err := providers.ProvideLogger(ctx, cfg)
	if err != nil {
		fmt.Println("start logger:", err)
		os.Exit(1)
	}
	defer loggerShutdown(ctx)

	mp, shutdown, err := providers.ProvideMeterProvider(ctx)
	if err != nil {
		logger.Error("start meter provider", "error", err)
		os.Exit(1)
	}
	defer shutdown(ctx)

	paths, err := providers.ProvidePaths(cfg)
	if err != nil {
		logger.Error("create vault paths", "error", err)
		os.Exit(1)
	}
	hosts, err := providers.ProvideImageHosts()
	if err != nil {
		logger.Error("build image hosts", "error", err)
		os.Exit(1)
	}
	v, err := providers.ProvideVault(cfg, paths, hosts, logger, providers.ProvideMeter(mp))
	if err != nil {
		logger.Error("build vault", "error", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "fetch":
		fetchCmd(ctx, v)
	case "remove":
		removeCmd(v)
	case "has":
		hasCmd(v)
	case "prune":
		v.PruneExpiredImages()
	case "update":
		v.UpdateImages(ctx, vault.FetchTypeImageOnly, nil, nil)
	default:
		usage()
	}
}

func fetchCmd(ctx context.Context, v *vault.Vault) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	name := fs.String("name", "", "instance name (generated if omitted)")
	release := fs.String("release", "", "alias, URL, or local path")
	remote := fs.String("remote", "", "remote name (alias queries only)")
	queryType := fs.String("type", "alias", "alias|http|file")
	withKernel := fs.Bool("kernel", false, "also fetch a kernel and initrd")
	persistent := fs.Bool("persistent", false, "exempt from prune_expired_images")
	fs.Parse(os.Args[2:])

	if *release == "" {
		fmt.Println("--release is required")
		os.Exit(1)
	}
	if *name == "" {
		*name = cuid2.Generate()
	}

	var qt vault.QueryType
	switch *queryType {
	case "alias":
		qt = vault.QueryTypeAlias
	case "http":
		qt = vault.QueryTypeHttpUrl
	case "file":
		qt = vault.QueryTypeLocalFile
	default:
		fmt.Printf("unknown --type %q\n", *queryType)
		os.Exit(1)
	}

	ft := vault.FetchTypeImageOnly
	if *withKernel {
		ft = vault.FetchTypeImageKernelAndInitrd
	}

	query := vault.Query{
		Name:       *name,
		Release:    *release,
		RemoteName: *remote,
		Persistent: *persistent,
		Type:       qt,
	}

	monitor := func(phase string, percent int) {
		fmt.Printf("%-8s %d%%\n", phase, percent)
	}

	img, err := v.FetchImage(ctx, ft, query, nil, monitor)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}

	fmt.Printf("instance %q ready: %s\n", *name, img.ImagePath)
	if img.KernelPath != "" {
		fmt.Printf("  kernel: %s\n", img.KernelPath)
	}
	if img.InitrdPath != "" {
		fmt.Printf("  initrd: %s\n", img.InitrdPath)
	}
}

func removeCmd(v *vault.Vault) {
	if len(os.Args) < 3 {
		usage()
	}
	if err := v.Remove(os.Args[2]); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func hasCmd(v *vault.Vault) {
	if len(os.Args) < 3 {
		usage()
	}
	fmt.Println(v.HasRecordFor(os.Args[2]))
}
