package spu

// Tick synthesizes one millisecond of audio: every active voice is run for
// TickFrames samples, auto-DMA input is added, and the clamped result is
// sent to the output.
func (s *SPU) Tick() {
	newVoices := 0
	for ch := 0; ch < NumVoices; ch++ {
		v := &s.voices[ch]
		if v.State == VoiceStarting {
			v.start()
			s.endFlags &^= 1 << ch
			newVoices++
		}
		if !v.active() {
			continue
		}
		s.mixVoice(ch, v)
	}

	for c := range s.cores {
		s.mixInput(c)
	}

	for ns := range s.bus {
		s.out[ns*2] = int16(clampSample(s.bus[ns][0]))
		s.out[ns*2+1] = int16(clampSample(s.bus[ns][1]))
		s.bus[ns] = [2]int32{}
		s.fmod[ns] = 0
	}
	s.stats.Ticks++

	if s.cfg.Output != nil {
		s.cfg.Output.Append(s.out[:], newVoices)
	}
}

// mixVoice runs one voice for a tick and accumulates it into the bus.
func (s *SPU) mixVoice(ch int, v *Voice) {
	c := &s.cores[coreOf(ch)]
	if v.actFreq != v.usedFreq {
		v.changeFrequency()
	}

	for ns := 0; ns < TickFrames; ns++ {
		if v.fm == FMModulated && s.fmod[ns] != 0 {
			v.modulate(s.fmod[ns])
			s.fmod[ns] = 0
		}

		var fa int32
		if v.noise {
			fa = s.noiseSample(v, c.noiseClock)
		} else {
			for v.spos >= phaseOne {
				if v.sbPos == SamplesPerBlock {
					if v.drained {
						v.off()
						return
					}
					s.decodeNext(ch, v)
				}
				v.storeSample(v.block[v.sbPos], c.muted)
				v.sbPos++
				v.spos -= phaseOne
			}
			fa = v.sample()
		}

		level, off := s.envelope(v)
		sval := level * fa / envelopeLevelMax
		if v.fm == FMSource {
			s.fmod[ns] = sval
		} else {
			if v.mixL {
				s.bus[ns][0] += (sval * v.leftVol) >> 14
			}
			if v.mixR {
				s.bus[ns][1] += (sval * v.rightVol) >> 14
			}
		}
		if off {
			v.off()
			return
		}
		v.spos += v.sinc
	}
}

// envelope steps the voice's envelope. A stopping voice is moved to
// release; off reports that the voice has finished.
func (s *SPU) envelope(v *Voice) (level int32, off bool) {
	if v.State != VoiceStopping {
		level, _ = v.Env.Step()
		return level, false
	}
	if v.Env.Phase != PhaseRelease {
		v.Env.KeyOff()
	}
	if v.ignoreLoop {
		v.Env.Silence()
		return 0, true
	}
	level, done := v.Env.Step()
	return level, done
}

// decodeNext decodes the block at the voice's cursor and advances the
// cursor, following loop and end flags.
func (s *SPU) decodeNext(ch int, v *Voice) {
	addr := v.cursor
	flags := DecodeBlock(s.mem.block(addr), &v.s1, &v.s2, &v.block)
	v.sbPos = 0

	for c := range s.cores {
		cr := &s.cores[c]
		if !cr.irqEnable {
			continue
		}
		if inRange(cr.irqAddr, addr, BlockWords) ||
			(flags&FlagEnd != 0 && v.loopValid && inRange(cr.irqAddr, v.loopAddr, BlockWords)) {
			s.raiseIRQ(c)
		}
	}

	if flags&FlagLoopStart != 0 && !v.ignoreLoop {
		v.loopAddr = addr
		v.loopValid = true
	}

	next := (addr + BlockWords) & memWordMask
	if flags&FlagEnd != 0 {
		s.endFlags |= 1 << ch
		if flags&FlagRepeat == 0 || !v.loopValid {
			v.drained = true
			v.ignoreLoop = false
			v.State = VoiceStopping
		} else {
			next = v.loopAddr
		}
	}
	v.cursor = next
}
