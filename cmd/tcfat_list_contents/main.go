package main

import (
	"fmt"
	"os"

	"path/filepath"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"

	"github.com/dsoprea/go-fat32"
	"github.com/dsoprea/go-fat32/pagestore"
	"github.com/dsoprea/go-fat32/truecrypt"
)

type rootParameters struct {
	Filepath       string `short:"f" long:"filepath" description:"File-path of the encrypted volume" required:"true"`
	Password       string `long:"password" env:"TCFAT_PASSWORD" description:"Volume password"`
	FilenameFilter string `short:"p" long:"pattern" description:"Filename filter"`
	ShowDetail     bool   `short:"d" long:"detail" description:"Show additional entry detail"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	fps, err := pagestore.OpenFilePageStore(afero.NewOsFs(), rootArguments.Filepath, fat32.SectorSize, false)
	log.PanicIf(err)

	defer fps.Close()

	vs, err := truecrypt.NewVolumeStore(fps, []byte(rootArguments.Password), nil)
	log.PanicIf(err)

	fs, err := fat32.NewFileSystem(vs, nil)
	log.PanicIf(err)

	defer fs.Close()

	tree := fat32.NewTree(fs)

	err = tree.Load()
	log.PanicIf(err)

	files, nodes, err := tree.List()
	log.PanicIf(err)

	for _, currentFilepath := range files {
		node := nodes[currentFilepath]

		if rootArguments.FilenameFilter != "" {
			isMatched, err := filepath.Match(rootArguments.FilenameFilter, node.Name())
			log.PanicIf(err)

			if isMatched != true {
				continue
			}
		}

		f := node.File()

		if rootArguments.ShowDetail == true {
			fmt.Printf("## %s\n", currentFilepath)
			fmt.Printf("\n")

			de := f.Entry()

			fmt.Printf("ShortName: [%s]\n", de.ShortName)
			fmt.Printf("StartCluster: (%d)\n", de.StartCluster)
			fmt.Printf("Length: (%d)\n", de.Length)
			fmt.Printf("Created: [%s]\n", de.CreatedTime)
			fmt.Printf("Accessed: [%s]\n", de.AccessedTime)
			fmt.Printf("Modified: [%s]\n", de.ModifiedTime)
			fmt.Printf("Attributes:\n")

			de.Attributes.DumpBareIndented("  ")

			fmt.Printf("\n")
		} else {
			size := "<DIR>"
			if f.IsDirectory() == false {
				size = humanize.Comma(int64(f.Length()))
			}

			fmt.Printf("%15s %30s %s\n", size, f.ModifiedTime(), currentFilepath)
		}
	}
}
