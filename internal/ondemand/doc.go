// Package ondemand decodes compressed audio lazily into sample blocks.
//
// A Decoder answers Decode(start, length, channel) by combining a sorted,
// capacity-bounded cache of decoded ranges with a sequential decode loop
// over a Demuxer. Seeking is attempted only when the request is far from the
// decode cursor and the source has been judged seekable; holes before the
// first decoded frame are filled with silence. The first frame after creation
// or after a seek is positioned by its timestamp; later frames follow the
// cursor.
package ondemand
