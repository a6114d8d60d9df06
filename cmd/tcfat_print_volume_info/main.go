package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"

	"github.com/dsoprea/go-fat32"
	"github.com/dsoprea/go-fat32/pagestore"
	"github.com/dsoprea/go-fat32/truecrypt"
)

type rootParameters struct {
	Filepath string `short:"f" long:"filepath" description:"File-path of the encrypted volume" required:"true"`
	Password string `long:"password" env:"TCFAT_PASSWORD" description:"Volume password"`
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

	fmt.Printf("Suite: [%s]\n", vs.Suite())
	fmt.Printf("PRF: [%s]\n", vs.Prf())
	fmt.Printf("\n")

	vh := vs.Header()
	vh.Dump()

	fs, err := fat32.NewFileSystem(vs, nil)
	log.PanicIf(err)

	defer fs.Close()

	fs.BootSector().Dump()
	fs.InfoSector().Dump()

	fmt.Printf("FreeClusters: (%d)\n", fs.AllocationTable().FreeSpace())
}
