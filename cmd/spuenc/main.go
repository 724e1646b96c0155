// Command spuenc converts a WAV file to the sound processor's 4-bit ADPCM
// format.
package main

import (
	"flag"
	"log"
	"strings"

	"github.com/spf13/afero"

	"github.com/user-none/emspu2/cli"
	"github.com/user-none/emspu2/spu"
)

func main() {
	in := flag.String("in", "", "WAV file to encode (required)")
	out := flag.String("out", "", "ADPCM output file (default: input with .adpcm extension)")
	loop := flag.Bool("loop", false, "mark the sample as looping")
	flag.Parse()

	if *in == "" {
		log.Fatal("Input path is required. Usage: spuenc -in <file.wav> [-out <file>] [-loop]")
	}
	if *out == "" {
		*out = strings.TrimSuffix(*in, ".wav") + ".adpcm"
	}

	fs := afero.NewOsFs()
	pcm, err := cli.LoadWAV(fs, *in)
	if err != nil {
		log.Fatalf("Failed to load WAV: %v", err)
	}

	data := spu.EncodeADPCM(pcm.Mono(), *loop)
	if err := afero.WriteFile(fs, *out, data, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	log.Printf("%s: %d frames at %d Hz, %d blocks, pitch 0x%04X",
		*out, pcm.Frames(), pcm.SampleRate, len(data)/spu.BlockSize, pcm.Pitch())
}
