package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"

	"github.com/dsoprea/go-fat32"
	"github.com/dsoprea/go-fat32/pagestore"
	"github.com/dsoprea/go-fat32/truecrypt"
)

type rootParameters struct {
	VolumeFilepath  string `short:"f" long:"volume-filepath" description:"File-path of the encrypted volume" required:"true"`
	Password        string `long:"password" env:"TCFAT_PASSWORD" description:"Volume password"`
	ExtractFilepath string `short:"e" long:"extract-filepath" description:"File-path to extract (use forward slashes)" required:"true"`
	OutputFilepath  string `short:"o" long:"output-filepath" description:"File-path to write to ('-' for STDOUT)" required:"true"`
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

	fps, err := pagestore.OpenFilePageStore(afero.NewOsFs(), rootArguments.VolumeFilepath, fat32.SectorSize, false)
	log.PanicIf(err)

	defer fps.Close()

	vs, err := truecrypt.NewVolumeStore(fps, []byte(rootArguments.Password), nil)
	log.PanicIf(err)

	fs, err := fat32.NewFileSystem(vs, nil)
	log.PanicIf(err)

	defer fs.Close()

	f, err := fs.GetFile(rootArguments.ExtractFilepath)
	if log.Is(err, fat32.ErrNotFound) == true {
		fmt.Printf("File not found.\n")
		os.Exit(2)
	}

	log.PanicIf(err)

	cs, err := f.Open()
	log.PanicIf(err)

	var g io.Writer

	if rootArguments.OutputFilepath == "-" {
		g = os.Stdout
	} else {
		h, err := os.Create(rootArguments.OutputFilepath)
		log.PanicIf(err)

		defer h.Close()

		g = h
	}

	n, err := io.Copy(g, cs)
	log.PanicIf(err)

	if rootArguments.OutputFilepath != "-" {
		fmt.Printf("(%d) bytes written.\n", n)
	}
}
