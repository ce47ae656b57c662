package mllp

import (
	"bufio"
	"errors"
	"io"
)

// MLLP-кадр: 0x0B <payload> 0x1C, исходящий кадр дополняется 0x0D
const (
	startByte   = 0x0B
	endByte     = 0x1C
	trailerByte = 0x0D
)

// ErrFrameTooLarge возвращается, когда кадр превысил лимит размера.
// Фреймер при этом остаётся пригодным: накопленный кадр отброшен,
// чтение продолжается со следующего стартового байта
var ErrFrameTooLarge = errors.New("mllp: frame exceeds size limit")

// Framer выделяет MLLP-кадры из байтового потока. Байты вне кадра
// игнорируются; повторный стартовый байт внутри кадра сбрасывает
// накопленный буфер; незавершённый кадр на закрытии соединения
// отбрасывается молча
type Framer struct {
	br       *bufio.Reader
	maxBytes int
	buf      []byte
	inFrame  bool
}

// NewFramer создаёт фреймер поверх потока. maxBytes <= 0 отключает лимит
func NewFramer(r io.Reader, maxBytes int) *Framer {
	return &Framer{
		br:       bufio.NewReader(r),
		maxBytes: maxBytes,
	}
}

// Next возвращает следующий полный кадр. По закрытию потока возвращает
// io.EOF; ErrFrameTooLarge не фатальна — можно вызывать Next дальше
func (f *Framer) Next() ([]byte, error) {
	for {
		b, err := f.br.ReadByte()
		if err != nil {
			return nil, err
		}

		switch {
		case b == startByte:
			// Стартовый байт внутри кадра означает испорченный поток:
			// начинаем кадр заново, а не склеиваем
			f.inFrame = true
			f.buf = f.buf[:0]

		case b == endByte:
			if !f.inFrame {
				continue
			}
			f.inFrame = false
			frame := make([]byte, len(f.buf))
			copy(frame, f.buf)
			f.buf = f.buf[:0]
			return frame, nil

		case f.inFrame:
			if f.maxBytes > 0 && len(f.buf) >= f.maxBytes {
				f.inFrame = false
				f.buf = f.buf[:0]
				return nil, ErrFrameTooLarge
			}
			f.buf = append(f.buf, b)
		}
	}
}

// WriteFrame записывает полезную нагрузку в MLLP-обрамлении
// с завершающим возвратом каретки
func WriteFrame(w io.Writer, payload []byte) error {
	framed := make([]byte, 0, len(payload)+3)
	framed = append(framed, startByte)
	framed = append(framed, payload...)
	framed = append(framed, endByte, trailerByte)

	_, err := w.Write(framed)
	return err
}
