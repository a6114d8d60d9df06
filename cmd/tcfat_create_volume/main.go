package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"

	"github.com/dsoprea/go-fat32"
	"github.com/dsoprea/go-fat32/pagestore"
	"github.com/dsoprea/go-fat32/truecrypt"
)

type rootParameters struct {
	Filepath          string `short:"f" long:"filepath" description:"File-path of the volume to create" required:"true"`
	Password          string `long:"password" env:"TCFAT_PASSWORD" description:"Volume password"`
	Sectors           uint64 `short:"s" long:"sectors" description:"Size of the filesystem in 512-byte sectors" required:"true"`
	SuiteName         string `long:"suite" description:"Encryption suite" default:"AES"`
	PrfName           string `long:"prf" description:"Header-key derivation" default:"RIPEMD-160"`
	Label             string `long:"label" description:"Volume label"`
	SectorsPerCluster uint8  `long:"sectors-per-cluster" description:"Cluster size in sectors (0 to pick one)"`
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

	suite, found := truecrypt.ParseSuite(rootArguments.SuiteName)
	if found == false {
		fmt.Printf("Suite not valid: [%s]\n", rootArguments.SuiteName)
		os.Exit(2)
	}

	prf, found := truecrypt.ParsePrf(rootArguments.PrfName)
	if found == false {
		fmt.Printf("PRF not valid: [%s]\n", rootArguments.PrfName)
		os.Exit(2)
	}

	afs := afero.NewOsFs()

	f, err := afs.OpenFile(rootArguments.Filepath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	log.PanicIf(err)

	size := int64(truecrypt.DataAreaOffset) + int64(rootArguments.Sectors)*fat32.SectorSize

	err = f.Truncate(size)
	log.PanicIf(err)

	fps, err := pagestore.NewFilePageStore(f, fat32.SectorSize)
	log.PanicIf(err)

	defer fps.Close()

	options := truecrypt.CreateOptions{
		Suite:     suite,
		Prf:       prf,
		DataPages: rootArguments.Sectors,
	}

	err = truecrypt.CreateVolume(fps, []byte(rootArguments.Password), options)
	log.PanicIf(err)

	unlockOptions := &truecrypt.UnlockOptions{
		Suites: []truecrypt.Suite{suite},
		Prfs:   []truecrypt.Prf{prf},
	}

	vs, err := truecrypt.NewVolumeStore(fps, []byte(rootArguments.Password), unlockOptions)
	log.PanicIf(err)

	formatOptions := fat32.FormatOptions{
		SectorsPerCluster: rootArguments.SectorsPerCluster,
		Label:             rootArguments.Label,
	}

	err = fat32.Format(vs, formatOptions)
	log.PanicIf(err)

	err = vs.Close()
	log.PanicIf(err)

	fmt.Printf("Created (%s) bytes volume with [%s] and [%s].\n", humanize.Comma(size), suite, prf)
}
