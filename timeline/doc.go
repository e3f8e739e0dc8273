// Package timeline maps raw PCM byte streams onto wall-clock timing.
//
// Two complementary views are provided:
//   - Tracker: an append-only byte-offset-to-duration mapper. Payloads need
//     not be frame aligned; trailing partial frames are carried into the next
//     call rather than dropped or rounded.
//   - Timeline: an ordered list of user/silence/dropped audio segments used to
//     translate provider-reported timestamps back into real capture time.
package timeline
